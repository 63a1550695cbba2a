package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/cluster-console/console/internal/conn"
	"github.com/cluster-console/console/internal/terminal"
)

// ctrlRightBracket detaches the terminal, telnet style.
const ctrlRightBracket = 0x1d

func cmdTerm(args []string) {
	fs := flag.NewFlagSet("term", flag.ExitOnError)
	baseURL := fs.String("url", getEnv("CONSOLE_URL", "http://localhost:8080"), "Console base URL")
	kind := fs.String("kind", "management", "Session kind: management or tenant")
	namespace := fs.String("namespace", "", "Cluster namespace")
	cluster := fs.String("cluster", "", "Cluster name")
	pod := fs.String("pod", "", "Pod to exec into")
	container := fs.String("container", "", "Container within the pod")
	fs.Parse(args)

	target := terminal.Target{
		Kind:      terminal.SessionKind(*kind),
		Namespace: *namespace,
		Cluster:   *cluster,
		Pod:       *pod,
		Container: *container,
	}
	if _, err := target.Path(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid target: %v\n", err)
		os.Exit(1)
	}

	sess, err := terminal.NewSession(terminal.Options{
		BaseURL: *baseURL,
		Target:  target,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Dispose()

	sess.SubscribeOutput(func(data []byte) {
		os.Stdout.Write(data)
	})

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		fmt.Fprintln(os.Stderr, "term requires an interactive terminal on stdin")
		os.Exit(1)
	}
	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enter raw mode: %v\n", err)
		os.Exit(1)
	}
	defer term.Restore(stdinFd, oldState)

	ctx := context.Background()
	if err := sess.Open(ctx); err != nil {
		term.Restore(stdinFd, oldState)
		fmt.Fprintf(os.Stderr, "Failed to open session: %v\n", err)
		os.Exit(1)
	}

	// Forward the local window geometry, now and on every SIGWINCH.
	sendGeometry(sess, stdinFd)
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			sendGeometry(sess, stdinFd)
		}
	}()

	// Pump stdin into the session. Ctrl-] detaches; after a disconnect
	// Enter starts a fresh shell instead of being sent as input.
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		if n == 1 && buf[0] == ctrlRightBracket {
			return
		}
		if sess.State() != conn.StateConnected && n == 1 && (buf[0] == '\r' || buf[0] == '\n') {
			if err := sess.Reconnect(ctx); err != nil {
				continue
			}
			sendGeometry(sess, stdinFd)
			continue
		}
		sess.SendInput(buf[:n])
	}
}

func sendGeometry(sess *terminal.Session, fd int) {
	cols, rows, err := term.GetSize(fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	sess.Resize(uint16(cols), uint16(rows))
}
