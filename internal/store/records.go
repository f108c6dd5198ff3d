package store

import "time"

// AgentType classifies an agent and determines which command actions it
// accepts.
type AgentType string

const (
	AgentTypeResearch  AgentType = "research"
	AgentTypeAssistant AgentType = "assistant"
	AgentTypeAnalysis  AgentType = "analysis"
	AgentTypeCreative  AgentType = "creative"
	AgentTypeCode      AgentType = "code"
)

// AgentStatus is the registry-visible state of an agent.
type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentBusy   AgentStatus = "busy"
	AgentIdle   AgentStatus = "idle"
	AgentError  AgentStatus = "error"
)

// AgentRecord is a registry entry for a named, typed agent. Agents carry no
// computation here; they exist so commands can be validated against them.
type AgentRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         AgentType   `json:"type"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities,omitempty"`
}

// TaskPriority is an ordered priority: urgent > high > medium > low > none.
type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
	PriorityNone   TaskPriority = "none"
)

var priorityRank = map[TaskPriority]int{
	PriorityUrgent: 4,
	PriorityHigh:   3,
	PriorityMedium: 2,
	PriorityLow:    1,
	PriorityNone:   0,
}

// Rank returns the ordering weight of p; higher is more urgent. Unknown
// priorities rank as none.
func (p TaskPriority) Rank() int {
	return priorityRank[p]
}

// TaskRecord is a unit of work attributed to an agent. AgentID is a soft
// reference: a task may outlive or predate its agent.
type TaskRecord struct {
	ID       string       `json:"id"`
	AgentID  string       `json:"agent_id"`
	Title    string       `json:"title"`
	Status   string       `json:"status"`
	Priority TaskPriority `json:"priority"`
	Progress int          `json:"progress"` // 0-100
}

// ContextRecord is a shared workspace: a named group of agents plus an
// arbitrary data payload.
type ContextRecord struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	AgentIDs    []string               `json:"agent_ids,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// HistoryEntry is one issued command. Append-only, bounded.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Severity levels for notifications.
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ActionRecord is the persisted shape of a notification action. Handlers are
// runtime-only and live with the delivery layer.
type ActionRecord struct {
	Label         string `json:"label"`
	CloseOnInvoke bool   `json:"close_on_invoke"`
}

// NotificationRecord is a stored notification. Bounded to the most recent
// 100; oldest evicted first.
type NotificationRecord struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
	Actions   []ActionRecord `json:"actions,omitempty"`
}

// Settings is the free-form settings map. Updates merge shallowly: top-level
// keys are replaced wholesale.
type Settings map[string]interface{}
