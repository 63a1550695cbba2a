package terminal

import (
	"strings"

	"github.com/cluster-console/console/internal/model"
)

// SessionKind selects which control plane a terminal attaches to.
type SessionKind string

const (
	KindManagement SessionKind = "management"
	KindTenant     SessionKind = "tenant"
)

// Target describes the remote end of a terminal session. An unscoped
// management target attaches to the management cluster shell; scoped
// targets drill into a cluster and optionally a pod and container.
type Target struct {
	Kind      SessionKind
	Namespace string
	Cluster   string
	Pod       string
	Container string
}

// Path returns the endpoint path for the target.
//
//	/ws/terminal/management
//	/ws/terminal/{kind}/{namespace}/{cluster}[/{pod}[/{container}]]
func (t Target) Path() (string, error) {
	if t.Kind != KindManagement && t.Kind != KindTenant {
		return "", model.ErrInvalidTarget
	}

	if t.Namespace == "" && t.Cluster == "" {
		if t.Kind != KindManagement || t.Pod != "" || t.Container != "" {
			return "", model.ErrInvalidTarget
		}
		return "/ws/terminal/management", nil
	}

	if t.Namespace == "" || t.Cluster == "" {
		return "", model.ErrInvalidTarget
	}
	if t.Container != "" && t.Pod == "" {
		return "", model.ErrInvalidTarget
	}

	parts := []string{"/ws/terminal", string(t.Kind), t.Namespace, t.Cluster}
	if t.Pod != "" {
		parts = append(parts, t.Pod)
		if t.Container != "" {
			parts = append(parts, t.Container)
		}
	}
	return strings.Join(parts, "/"), nil
}
