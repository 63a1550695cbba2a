package model

import (
	"encoding/json"
	"time"
)

// ClusterPhase represents the lifecycle phase reported for a cluster.
type ClusterPhase string

const (
	ClusterPhaseProvisioning ClusterPhase = "provisioning"
	ClusterPhaseReady        ClusterPhase = "ready"
	ClusterPhaseDegraded     ClusterPhase = "degraded"
	ClusterPhaseDeleting     ClusterPhase = "deleting"
)

// ObjectMeta identifies a namespaced resource.
type ObjectMeta struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	UID       string            `json:"uid,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Cluster is a managed cluster resource as delivered over the event stream.
// Spec is kept opaque: the transport republishes snapshots, it does not
// interpret them.
type Cluster struct {
	Metadata ObjectMeta      `json:"metadata"`
	Spec     json.RawMessage `json:"spec,omitempty"`
	Status   ClusterStatus   `json:"status,omitempty"`
}

// ClusterStatus carries the server-reported state of a cluster.
type ClusterStatus struct {
	Phase      ClusterPhase `json:"phase,omitempty"`
	Version    string       `json:"version,omitempty"`
	NodeCount  int          `json:"nodeCount,omitempty"`
	Message    string       `json:"message,omitempty"`
	LastUpdate time.Time    `json:"lastUpdate,omitempty"`
}

// ResourceKey identifies a resource across the event stream and the
// snapshot cache. Subscribers register by key.
type ResourceKey struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// Key returns the resource key for the cluster.
func (c *Cluster) Key() ResourceKey {
	return ResourceKey{Name: c.Metadata.Name, Namespace: c.Metadata.Namespace}
}

// String returns the key in namespace/name form.
func (k ResourceKey) String() string {
	if k.Namespace == "" {
		return k.Name
	}
	return k.Namespace + "/" + k.Name
}
