package main

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cluster-console/console/internal/frame"
	"github.com/cluster-console/console/internal/model"
)

const mutatePeriod = 5 * time.Second

// clusterFeed broadcasts synthetic cluster mutations to every client on
// /ws/clusters and pings them periodically.
type clusterFeed struct {
	mu       sync.Mutex
	clients  map[*feedClient]bool
	clusters map[model.ResourceKey]*model.Cluster
	stopCh   chan struct{}
	stopOnce sync.Once
}

type feedClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newClusterFeed() *clusterFeed {
	f := &clusterFeed{
		clients:  make(map[*feedClient]bool),
		clusters: make(map[model.ResourceKey]*model.Cluster),
		stopCh:   make(chan struct{}),
	}
	for _, seed := range []struct{ name, namespace string }{
		{"prod", "team-a"},
		{"staging", "team-a"},
		{"mgmt-1", "infra"},
	} {
		c := &model.Cluster{
			Metadata: model.ObjectMeta{
				Name:      seed.name,
				Namespace: seed.namespace,
				UID:       uuid.New().String(),
			},
			Status: model.ClusterStatus{
				Phase:      model.ClusterPhaseReady,
				Version:    "1.31.0",
				NodeCount:  3,
				LastUpdate: time.Now().UTC(),
			},
		}
		f.clusters[c.Key()] = c
	}
	return f
}

func (f *clusterFeed) handleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("cluster feed: upgrade: %v", err)
		return
	}

	client := &feedClient{ws: ws}
	f.mu.Lock()
	f.clients[client] = true
	snapshot := make([]*model.Cluster, 0, len(f.clusters))
	for _, cl := range f.clusters {
		snapshot = append(snapshot, cl)
	}
	f.mu.Unlock()
	log.Printf("cluster feed: client connected (%d total)", f.clientCount())

	// Bring the newcomer up to date before the next mutation.
	for _, cl := range snapshot {
		fr, err := frame.ClusterUpdate(cl)
		if err != nil {
			continue
		}
		client.send(fr)
	}

	go f.pingClient(client)

	// Absorb pongs until the client goes away.
	ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if _, derr := frame.Decode(data); derr != nil {
			log.Printf("cluster feed: dropping frame: %v", derr)
		}
	}

	f.mu.Lock()
	delete(f.clients, client)
	f.mu.Unlock()
	ws.Close()
	log.Printf("cluster feed: client disconnected (%d total)", f.clientCount())
}

func (f *clusterFeed) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (c *feedClient) send(fr *frame.Frame) error {
	data, err := frame.Encode(fr)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (f *clusterFeed) pingClient(client *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := client.send(&frame.Frame{Type: frame.KindPing}); err != nil {
				return
			}
		case <-f.stopCh:
			return
		}
	}
}

// run mutates the synthetic fleet and broadcasts the changes.
func (f *clusterFeed) run() {
	ticker := time.NewTicker(mutatePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.mutate()
		case <-f.stopCh:
			return
		}
	}
}

func (f *clusterFeed) stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

var phases = []model.ClusterPhase{
	model.ClusterPhaseReady,
	model.ClusterPhaseDegraded,
	model.ClusterPhaseProvisioning,
}

func (f *clusterFeed) mutate() {
	f.mu.Lock()
	keys := make([]model.ResourceKey, 0, len(f.clusters))
	for key := range f.clusters {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		f.mu.Unlock()
		return
	}
	key := keys[rand.Intn(len(keys))]
	c := f.clusters[key]

	var fr *frame.Frame
	var err error
	if rand.Intn(10) == 0 {
		// Occasionally delete and immediately re-provision a cluster so
		// tombstones flow too.
		delete(f.clusters, key)
		fr, err = frame.ClusterDelete(key)
		go f.reprovision(key)
	} else {
		c.Status.Phase = phases[rand.Intn(len(phases))]
		c.Status.NodeCount = 1 + rand.Intn(9)
		c.Status.LastUpdate = time.Now().UTC()
		fr, err = frame.ClusterUpdate(c)
	}
	clients := make([]*feedClient, 0, len(f.clients))
	for client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.Unlock()

	if err != nil {
		log.Printf("cluster feed: encode: %v", err)
		return
	}
	for _, client := range clients {
		client.send(fr)
	}
}

func (f *clusterFeed) reprovision(key model.ResourceKey) {
	time.Sleep(2 * mutatePeriod)
	c := &model.Cluster{
		Metadata: model.ObjectMeta{
			Name:      key.Name,
			Namespace: key.Namespace,
			UID:       uuid.New().String(),
		},
		Status: model.ClusterStatus{
			Phase:      model.ClusterPhaseProvisioning,
			Version:    "1.31.0",
			NodeCount:  0,
			LastUpdate: time.Now().UTC(),
		},
	}
	f.mu.Lock()
	select {
	case <-f.stopCh:
		f.mu.Unlock()
		return
	default:
	}
	f.clusters[key] = c
	clients := make([]*feedClient, 0, len(f.clients))
	for client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.Unlock()

	fr, err := frame.ClusterUpdate(c)
	if err != nil {
		return
	}
	for _, client := range clients {
		client.send(fr)
	}
}
