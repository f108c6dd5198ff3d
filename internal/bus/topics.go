package bus

// Data store change topics. One topic per collection; the payload is always
// a ChangeEvent.
const (
	TopicAgentsChanged        = "store.agents"
	TopicTasksChanged         = "store.tasks"
	TopicContextsChanged      = "store.contexts"
	TopicHistoryChanged       = "store.history"
	TopicNotificationsChanged = "store.notifications"
	TopicSettingsChanged      = "store.settings"
	TopicStoreSynchronized    = "store.synchronized"
)

// ChangeEvent is published whenever a data store collection mutates.
type ChangeEvent struct {
	Type    string      // collection name, e.g. "agents"
	Action  string      // "add", "update", "delete" or "clear"
	Payload interface{} // the affected record, or nil for clear
}

// Change actions.
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionClear  = "clear"
)

// Synchronization topics.
const (
	TopicSyncStarted   = "sync.started"
	TopicSyncCompleted = "sync.completed"
	TopicSyncFailed    = "sync.failed"
	TopicSyncRetrying  = "sync.retrying"
	TopicSyncOffline   = "sync.offline"
	TopicSyncOnline    = "sync.online"
	TopicViewStateSaved    = "sync.viewstate.saved"
	TopicViewStateExternal = "sync.viewstate.external"
)

// SyncCycleEvent is published when a reconciliation cycle completes or fails.
type SyncCycleEvent struct {
	Drained int    // offline changes drained on success
	Retry   int    // retry attempt number, 0 for a scheduled cycle
	Error   string // failure reason, empty on success
}

// Notification topics.
const (
	TopicNotifyShown   = "notify.shown"
	TopicNotifyQueued  = "notify.queued"
	TopicNotifyClosed  = "notify.closed"
)

// NotifyEvent is published when a notification is rendered, queued or closed.
type NotifyEvent struct {
	ID       string
	Severity string
	Tier     string // delivery tier that rendered it, empty if queued
}
