// Package storage provides the durable key-value namespace backing the data
// store and the synchronization manager. Each key holds one serialized
// collection snapshot. Implementations must be safe for concurrent use.
package storage

import "context"

// Namespace is the injected persistence boundary. The data store is the only
// component that writes record collections through it; the synchronization
// manager owns the offline queue and view-state slots.
type Namespace interface {
	// Get returns the value stored under key. ok is false if the key has
	// never been set.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Has reports whether key is present.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Well-known namespace keys, one slot per logical collection.
const (
	KeyAgents        = "agents"
	KeyTasks         = "tasks"
	KeyContexts      = "contexts"
	KeyHistory       = "command_history"
	KeyNotifications = "notifications"
	KeySettings      = "settings"
	KeyLastSync      = "last_sync"
	KeyOfflineQueue  = "offline_queue"
	KeyViewState     = "view_state"
	KeyViewSignal    = "view_state_signal"
)
