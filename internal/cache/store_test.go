package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cluster-console/console/internal/eventstream"
	"github.com/cluster-console/console/internal/model"
	"github.com/cluster-console/console/internal/transport/transporttest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testCluster(name, namespace string, phase model.ClusterPhase) *model.Cluster {
	return &model.Cluster{
		Metadata: model.ObjectMeta{Name: name, Namespace: namespace},
		Status:   model.ClusterStatus{Phase: phase, Version: "1.31"},
	}
}

func TestStoreUpsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := testCluster("prod", "team-a", model.ClusterPhaseReady)
	if err := store.Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, c.Key())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Metadata.Name != "prod" || got.Metadata.Namespace != "team-a" {
		t.Errorf("unexpected identity: %+v", got.Metadata)
	}
	if got.Status.Phase != model.ClusterPhaseReady || got.Status.Version != "1.31" {
		t.Errorf("unexpected status: %+v", got.Status)
	}
}

func TestStoreLatestSnapshotWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.Upsert(ctx, testCluster("prod", "team-a", model.ClusterPhaseProvisioning))
	store.Upsert(ctx, testCluster("prod", "team-a", model.ClusterPhaseReady))

	got, err := store.Get(ctx, model.ResourceKey{Name: "prod", Namespace: "team-a"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status.Phase != model.ClusterPhaseReady {
		t.Errorf("expected the newer snapshot, got phase %q", got.Status.Phase)
	}

	clusters, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(clusters) != 1 {
		t.Errorf("expected a single row per key, got %d", len(clusters))
	}
}

func TestStoreDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := testCluster("prod", "team-a", model.ClusterPhaseReady)
	store.Upsert(ctx, c)

	if err := store.Delete(ctx, c.Key()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, c.Key()); !errors.Is(err, model.ErrClusterNotFound) {
		t.Errorf("expected ErrClusterNotFound, got %v", err)
	}

	// Tombstones for unknown clusters are fine.
	if err := store.Delete(ctx, model.ResourceKey{Name: "ghost", Namespace: "ns"}); err != nil {
		t.Errorf("deleting a missing key should not fail: %v", err)
	}
}

func TestStoreListOrdersByKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.Upsert(ctx, testCluster("b", "ns2", model.ClusterPhaseReady))
	store.Upsert(ctx, testCluster("a", "ns1", model.ClusterPhaseReady))
	store.Upsert(ctx, testCluster("c", "ns1", model.ClusterPhaseDegraded))

	clusters, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(clusters) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(clusters))
	}
	want := []string{"ns1/a", "ns1/c", "ns2/b"}
	for i, c := range clusters {
		if c.Key().String() != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], c.Key())
		}
	}
}

func TestStoreMirrorsStream(t *testing.T) {
	store := openTestStore(t)

	dialer := transporttest.NewDialer()
	stream, err := eventstream.New(eventstream.Options{
		BaseURL: "http://localhost:8080",
		Dialer:  dialer,
	})
	if err != nil {
		t.Fatalf("eventstream.New: %v", err)
	}
	defer stream.Stop()

	detach := store.Attach(stream)
	defer detach()

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sock, ok := dialer.WaitDial(2 * time.Second)
	if !ok {
		t.Fatal("timed out waiting for dial")
	}

	sock.DeliverText(`{"type":"cluster_update","payload":{"cluster":{"metadata":{"name":"prod","namespace":"team-a"},"status":{"phase":"ready"}}}}`)

	key := model.ResourceKey{Name: "prod", Namespace: "team-a"}
	waitUntil(t, func() bool {
		_, err := store.Get(context.Background(), key)
		return err == nil
	}, "snapshot mirrored")

	sock.DeliverText(`{"type":"cluster_delete","payload":{"name":"prod","namespace":"team-a"}}`)

	waitUntil(t, func() bool {
		_, err := store.Get(context.Background(), key)
		return errors.Is(err, model.ErrClusterNotFound)
	}, "tombstone mirrored")
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
