package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cluster-console/console/internal/cache"
	"github.com/cluster-console/console/internal/eventstream"
)

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL := fs.String("url", getEnv("CONSOLE_URL", "http://localhost:8080"), "Console base URL")
	dbPath := fs.String("db", "", "Mirror snapshots into a local SQLite file")
	fs.Parse(args)

	stream, err := eventstream.New(eventstream.Options{BaseURL: *baseURL})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create stream: %v\n", err)
		os.Exit(1)
	}

	if *dbPath != "" {
		store, err := cache.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open snapshot database: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		detach := store.Attach(stream)
		defer detach()
	}

	unsubscribe := stream.SubscribeAll(func(ev eventstream.Event) {
		switch ev.Type {
		case eventstream.EventUpdated:
			log.Printf("UPDATED  %-30s phase=%-13s nodes=%d version=%s",
				ev.Key, ev.Cluster.Status.Phase, ev.Cluster.Status.NodeCount, ev.Cluster.Status.Version)
		case eventstream.EventDeleted:
			log.Printf("DELETED  %s", ev.Key)
		}
	})
	defer unsubscribe()

	if err := stream.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start stream: %v\n", err)
		os.Exit(1)
	}
	defer stream.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Stopping watch...")
}
