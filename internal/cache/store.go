// Package cache persists the last-known cluster snapshots delivered by
// the event stream. When the feed is down (or the console restarts)
// views render from here, visibly stale rather than empty.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cluster-console/console/internal/eventstream"
	"github.com/cluster-console/console/internal/model"
)

// Store is a SQLite-backed snapshot mirror keyed by resource identity.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path. ":memory:"
// works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cluster_snapshots (
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (namespace, name)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate snapshot db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert stores the snapshot for the cluster's key, replacing any prior
// one. Latest snapshot wins; there is no versioning.
func (s *Store) Upsert(ctx context.Context, c *model.Cluster) error {
	snapshot, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	query := `
		INSERT INTO cluster_snapshots (namespace, name, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, name) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, c.Metadata.Namespace, c.Metadata.Name, string(snapshot), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot for key. Deleting a missing key is not an
// error: a tombstone can arrive for a cluster never seen.
func (s *Store) Delete(ctx context.Context, key model.ResourceKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cluster_snapshots WHERE namespace = ? AND name = ?`,
		key.Namespace, key.Name)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Get returns the snapshot for key, or model.ErrClusterNotFound.
func (s *Store) Get(ctx context.Context, key model.ResourceKey) (*model.Cluster, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM cluster_snapshots WHERE namespace = ? AND name = ?`,
		key.Namespace, key.Name).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, model.ErrClusterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var c model.Cluster
	if err := json.Unmarshal([]byte(snapshot), &c); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &c, nil
}

// List returns every stored snapshot ordered by key.
func (s *Store) List(ctx context.Context) ([]*model.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM cluster_snapshots ORDER BY namespace, name`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var clusters []*model.Cluster
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var c model.Cluster
		if err := json.Unmarshal([]byte(snapshot), &c); err != nil {
			return nil, fmt.Errorf("parse snapshot: %w", err)
		}
		clusters = append(clusters, &c)
	}
	return clusters, rows.Err()
}

// Attach subscribes the store to a stream so every update and tombstone
// is mirrored. The returned function detaches it.
func (s *Store) Attach(stream *eventstream.Stream) func() {
	return stream.SubscribeAll(func(ev eventstream.Event) {
		ctx := context.Background()
		var err error
		switch ev.Type {
		case eventstream.EventUpdated:
			err = s.Upsert(ctx, ev.Cluster)
		case eventstream.EventDeleted:
			err = s.Delete(ctx, ev.Key)
		}
		if err != nil {
			log.Printf("cache: mirror %s %s: %v", ev.Type, ev.Key, err)
		}
	})
}
