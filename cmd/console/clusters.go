package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cluster-console/console/internal/cache"
)

func cmdClusters(args []string) {
	fs := flag.NewFlagSet("clusters", flag.ExitOnError)
	dbPath := fs.String("db", "data/snapshots.db", "Snapshot database to read")
	fs.Parse(args)

	store, err := cache.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open snapshot database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	clusters, err := store.List(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list snapshots: %v\n", err)
		os.Exit(1)
	}
	if len(clusters) == 0 {
		fmt.Println("No cached snapshots. Run `console watch --db <path>` first.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tNAME\tPHASE\tNODES\tVERSION\tLAST UPDATE")
	for _, c := range clusters {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Metadata.Namespace, c.Metadata.Name,
			c.Status.Phase, c.Status.NodeCount, c.Status.Version,
			c.Status.LastUpdate.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}
