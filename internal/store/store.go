// Package store is the single authoritative holder of all domain records.
// Every mutation is applied in memory, written through to the durable
// namespace as a full collection snapshot, and announced on the bus. No
// other component writes the namespace slots owned here.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/storage"
)

// maxEntries bounds the command history and notification collections.
const maxEntries = 100

// defaultHistoryLimit applies when History is called with a non-positive cap.
const defaultHistoryLimit = 10

// Store is the in-process registry of agents, tasks, contexts, command
// history, notifications and settings.
type Store struct {
	mu     sync.RWMutex
	ns     storage.Namespace
	bus    *bus.Bus
	logger *slog.Logger

	agents        map[string]AgentRecord
	tasks         map[string]TaskRecord
	contexts      map[string]ContextRecord
	history       []HistoryEntry
	notifications []NotificationRecord
	settings      Settings
	lastSync      time.Time
}

// New constructs a Store bound to the given namespace and bus, hydrating
// every collection that has a persisted snapshot.
func New(ns storage.Namespace, b *bus.Bus, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		ns:       ns,
		bus:      b,
		logger:   logger,
		agents:   make(map[string]AgentRecord),
		tasks:    make(map[string]TaskRecord),
		contexts: make(map[string]ContextRecord),
		settings: make(Settings),
	}
	s.hydrate()
	return s
}

func (s *Store) hydrate() {
	ctx := context.Background()

	var agents []AgentRecord
	if s.load(ctx, storage.KeyAgents, &agents) {
		for _, a := range agents {
			s.agents[a.ID] = a
		}
	}
	var tasks []TaskRecord
	if s.load(ctx, storage.KeyTasks, &tasks) {
		for _, t := range tasks {
			s.tasks[t.ID] = t
		}
	}
	var contexts []ContextRecord
	if s.load(ctx, storage.KeyContexts, &contexts) {
		for _, c := range contexts {
			s.contexts[c.ID] = c
		}
	}
	s.load(ctx, storage.KeyHistory, &s.history)
	s.load(ctx, storage.KeyNotifications, &s.notifications)
	s.load(ctx, storage.KeySettings, &s.settings)
	if s.settings == nil {
		s.settings = make(Settings)
	}

	var last string
	if s.load(ctx, storage.KeyLastSync, &last) {
		if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
			s.lastSync = t
		}
	}
}

// load unmarshals the namespace slot into dst. Returns false if the slot is
// absent or unreadable; a corrupt slot is logged and treated as empty.
func (s *Store) load(ctx context.Context, key string, dst interface{}) bool {
	raw, ok, err := s.ns.Get(ctx, key)
	if err != nil {
		s.logger.Warn("namespace read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("namespace slot corrupt, starting empty", "key", key, "error", err)
		return false
	}
	return true
}

// persist writes the full collection snapshot through to the namespace.
// Failures are logged and swallowed: in-memory state stays authoritative.
func (s *Store) persist(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal collection failed", "key", key, "error", err)
		return
	}
	if err := s.ns.Set(ctx, key, raw); err != nil {
		s.logger.Error("storage write failed, in-memory state remains authoritative",
			"key", key, "error", err)
	}
}

func (s *Store) publish(topic, collection, action string, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, bus.ChangeEvent{Type: collection, Action: action, Payload: payload})
}

// --- agents ---

// SaveAgent inserts or updates an agent record.
func (s *Store) SaveAgent(ctx context.Context, rec AgentRecord) AgentRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.mu.Lock()
	_, existed := s.agents[rec.ID]
	s.agents[rec.ID] = rec
	snapshot := s.agentSliceLocked()
	s.mu.Unlock()

	s.persist(ctx, storage.KeyAgents, snapshot)
	action := bus.ActionAdd
	if existed {
		action = bus.ActionUpdate
	}
	s.publish(bus.TopicAgentsChanged, "agents", action, rec)
	return rec
}

// DeleteAgent removes an agent. Tasks referencing it are left alone.
func (s *Store) DeleteAgent(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.agents[id]
	if ok {
		delete(s.agents, id)
	}
	snapshot := s.agentSliceLocked()
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.persist(ctx, storage.KeyAgents, snapshot)
	s.publish(bus.TopicAgentsChanged, "agents", bus.ActionDelete, id)
	return true
}

// Agent returns the agent with the given id.
func (s *Store) Agent(id string) (AgentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// Agents returns a copy of all agent records.
func (s *Store) Agents() []AgentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentSliceLocked()
}

func (s *Store) agentSliceLocked() []AgentRecord {
	out := make([]AgentRecord, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// --- tasks ---

// SaveTask inserts or updates a task. Progress is clamped to 0-100.
func (s *Store) SaveTask(ctx context.Context, rec TaskRecord) TaskRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Progress < 0 {
		rec.Progress = 0
	}
	if rec.Progress > 100 {
		rec.Progress = 100
	}
	s.mu.Lock()
	_, existed := s.tasks[rec.ID]
	s.tasks[rec.ID] = rec
	snapshot := s.taskSliceLocked()
	s.mu.Unlock()

	s.persist(ctx, storage.KeyTasks, snapshot)
	action := bus.ActionAdd
	if existed {
		action = bus.ActionUpdate
	}
	s.publish(bus.TopicTasksChanged, "tasks", action, rec)
	return rec
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	snapshot := s.taskSliceLocked()
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.persist(ctx, storage.KeyTasks, snapshot)
	s.publish(bus.TopicTasksChanged, "tasks", bus.ActionDelete, id)
	return true
}

// Task returns the task with the given id.
func (s *Store) Task(id string) (TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns a copy of all task records.
func (s *Store) Tasks() []TaskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskSliceLocked()
}

func (s *Store) taskSliceLocked() []TaskRecord {
	out := make([]TaskRecord, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// --- contexts ---

// SaveContext inserts or updates a workspace context.
func (s *Store) SaveContext(ctx context.Context, rec ContextRecord) ContextRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.mu.Lock()
	_, existed := s.contexts[rec.ID]
	s.contexts[rec.ID] = rec
	snapshot := s.contextSliceLocked()
	s.mu.Unlock()

	s.persist(ctx, storage.KeyContexts, snapshot)
	action := bus.ActionAdd
	if existed {
		action = bus.ActionUpdate
	}
	s.publish(bus.TopicContextsChanged, "contexts", action, rec)
	return rec
}

// DeleteContext removes a context by id.
func (s *Store) DeleteContext(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, ok := s.contexts[id]
	if ok {
		delete(s.contexts, id)
	}
	snapshot := s.contextSliceLocked()
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.persist(ctx, storage.KeyContexts, snapshot)
	s.publish(bus.TopicContextsChanged, "contexts", bus.ActionDelete, id)
	return true
}

// Context returns the context with the given id.
func (s *Store) Context(id string) (ContextRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

// Contexts returns a copy of all context records.
func (s *Store) Contexts() []ContextRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contextSliceLocked()
}

func (s *Store) contextSliceLocked() []ContextRecord {
	out := make([]ContextRecord, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	return out
}

// --- command history ---

// AddHistory appends a command to history, evicting the oldest entry beyond
// the bound. The append is synchronous: entries land in call order.
func (s *Store) AddHistory(ctx context.Context, text string) HistoryEntry {
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	if len(s.history) > maxEntries {
		s.history = s.history[len(s.history)-maxEntries:]
	}
	snapshot := make([]HistoryEntry, len(s.history))
	copy(snapshot, s.history)
	s.mu.Unlock()

	s.persist(ctx, storage.KeyHistory, snapshot)
	s.publish(bus.TopicHistoryChanged, "history", bus.ActionAdd, entry)
	return entry
}

// History returns the most recent entries, newest first. A non-positive
// limit means the default of 10.
func (s *Store) History(limit int) []HistoryEntry {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit > n {
		limit = n
	}
	out := make([]HistoryEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// ClearHistory drops all history entries.
func (s *Store) ClearHistory(ctx context.Context) {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()

	s.persist(ctx, storage.KeyHistory, []HistoryEntry{})
	s.publish(bus.TopicHistoryChanged, "history", bus.ActionClear, nil)
}

// --- notifications ---

// AddNotification records a notification, filling id, timestamp and severity
// defaults, and evicts beyond the bound.
func (s *Store) AddNotification(ctx context.Context, rec NotificationRecord) NotificationRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Severity == "" {
		rec.Severity = SeverityInfo
	}
	s.mu.Lock()
	s.notifications = append(s.notifications, rec)
	if len(s.notifications) > maxEntries {
		s.notifications = s.notifications[len(s.notifications)-maxEntries:]
	}
	snapshot := make([]NotificationRecord, len(s.notifications))
	copy(snapshot, s.notifications)
	s.mu.Unlock()

	s.persist(ctx, storage.KeyNotifications, snapshot)
	s.publish(bus.TopicNotificationsChanged, "notifications", bus.ActionAdd, rec)
	return rec
}

// MarkNotificationRead flags a notification as read.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	found := false
	var updated NotificationRecord
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			updated = s.notifications[i]
			found = true
			break
		}
	}
	snapshot := make([]NotificationRecord, len(s.notifications))
	copy(snapshot, s.notifications)
	s.mu.Unlock()

	if !found {
		return false
	}
	s.persist(ctx, storage.KeyNotifications, snapshot)
	s.publish(bus.TopicNotificationsChanged, "notifications", bus.ActionUpdate, updated)
	return true
}

// Notifications returns all stored notifications, newest first.
func (s *Store) Notifications() []NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NotificationRecord, 0, len(s.notifications))
	for i := len(s.notifications) - 1; i >= 0; i-- {
		out = append(out, s.notifications[i])
	}
	return out
}

// ClearNotifications drops all notifications.
func (s *Store) ClearNotifications(ctx context.Context) {
	s.mu.Lock()
	s.notifications = nil
	s.mu.Unlock()

	s.persist(ctx, storage.KeyNotifications, []NotificationRecord{})
	s.publish(bus.TopicNotificationsChanged, "notifications", bus.ActionClear, nil)
}

// --- settings ---

// SettingsSnapshot returns a shallow copy of the settings map.
func (s *Store) SettingsSnapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Settings, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out
}

// UpdateSettings merges patch into settings shallowly: each top-level key in
// patch replaces the existing value wholesale.
func (s *Store) UpdateSettings(ctx context.Context, patch Settings) Settings {
	s.mu.Lock()
	for k, v := range patch {
		s.settings[k] = v
	}
	snapshot := make(Settings, len(s.settings))
	for k, v := range s.settings {
		snapshot[k] = v
	}
	s.mu.Unlock()

	s.persist(ctx, storage.KeySettings, snapshot)
	s.publish(bus.TopicSettingsChanged, "settings", bus.ActionUpdate, snapshot)
	return snapshot
}

// --- sync bookkeeping ---

// LastSync returns the last successful synchronization time, zero if never.
func (s *Store) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// Synchronize stamps the last-sync time, persists it and announces
// completion. The synchronization manager calls this at the end of a
// successful reconciliation cycle; callers may also trigger it manually.
func (s *Store) Synchronize(ctx context.Context) time.Time {
	now := time.Now()
	s.mu.Lock()
	s.lastSync = now
	s.mu.Unlock()

	s.persist(ctx, storage.KeyLastSync, now.Format(time.RFC3339Nano))
	if s.bus != nil {
		s.bus.Publish(bus.TopicStoreSynchronized, now)
	}
	return now
}
