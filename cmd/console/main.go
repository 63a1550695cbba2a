// console is the operator CLI for the cluster console's realtime
// layer: attach an interactive terminal, follow the cluster change
// feed, or inspect locally cached snapshots.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "term":
		cmdTerm(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	case "clusters":
		cmdClusters(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: console <command> [options]

Commands:
  term       Attach an interactive terminal to a remote shell
  watch      Follow the cluster change feed
  clusters   List locally cached cluster snapshots

Options for term:
  --url <base>         Console base URL (default $CONSOLE_URL or http://localhost:8080)
  --kind <kind>        Session kind: management or tenant (default management)
  --namespace <ns>     Cluster namespace (required for tenant)
  --cluster <name>     Cluster name (required for tenant)
  --pod <name>         Pod to exec into
  --container <name>   Container within the pod

Options for watch:
  --url <base>         Console base URL
  --db <path>          Mirror snapshots into a local SQLite file

Options for clusters:
  --db <path>          Snapshot database to read (default data/snapshots.db)

Examples:
  console term
  console term --kind tenant --namespace team-a --cluster prod --pod api-0
  console watch --db data/snapshots.db
  console clusters --db data/snapshots.db

Keys in term: Ctrl-] detaches; Enter reconnects after a disconnect.`)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
