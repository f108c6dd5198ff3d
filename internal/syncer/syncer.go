// Package syncer reconciles local state with the simulated remote system.
// It tracks connectivity, runs a periodic reconciliation cycle, queues
// changes made while offline and replays them on reconnect.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/otel"
	"github.com/basket/agentdeck/internal/remote"
	"github.com/basket/agentdeck/internal/storage"
	"github.com/basket/agentdeck/internal/store"
)

// Status is the synchronization state machine value.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// State is a snapshot of the manager's live state.
type State struct {
	Status      Status
	LastSuccess time.Time
	Pending     int // offline changes queued, always == persisted queue length
	LastError   string
}

// OfflineChange is one mutation buffered while disconnected.
type OfflineChange struct {
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier surfaces sync failures to the user. The delivery layer provides
// the implementation; retry is invoked when the user asks for a manual
// retry.
type Notifier interface {
	SyncFailed(message string, retry func())
}

// cronParser parses standard 5-field cron expressions.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies and tuning for a Manager.
type Config struct {
	Store     *store.Store
	Namespace storage.Namespace
	Bus       *bus.Bus
	Remote    remote.Remote
	Logger    *slog.Logger
	Metrics   *otel.Metrics
	Notifier  Notifier

	Interval      time.Duration // periodic cycle spacing; defaults to 60s
	CronExpr      string        // optional 5-field cron schedule, overrides Interval
	RetryInterval time.Duration // delay before a retry; defaults to 5s
	MaxRetries    int           // automatic retry bound; defaults to 5
}

// Manager owns the reconciliation cycle and the offline-change queue.
type Manager struct {
	store    *store.Store
	ns       storage.Namespace
	bus      *bus.Bus
	remote   remote.Remote
	logger   *slog.Logger
	metrics  *otel.Metrics
	notifier Notifier

	interval      time.Duration
	cronSched     cronlib.Schedule
	retryInterval time.Duration
	maxRetries    int

	mu           sync.Mutex
	status       Status
	lastSuccess  time.Time
	lastError    string
	online       bool
	inFlight     bool
	retryCount   int
	retriesFired int
	retryTimer   *time.Timer
	queue        []OfflineChange

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager, restoring any persisted offline queue.
func NewManager(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:         cfg.Store,
		ns:            cfg.Namespace,
		bus:           cfg.Bus,
		remote:        cfg.Remote,
		logger:        logger,
		metrics:       cfg.Metrics,
		notifier:      cfg.Notifier,
		interval:      cfg.Interval,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
		status:        StatusIdle,
		online:        true,
	}
	if m.interval <= 0 {
		m.interval = time.Minute
	}
	if m.retryInterval <= 0 {
		m.retryInterval = 5 * time.Second
	}
	if m.maxRetries <= 0 {
		m.maxRetries = 5
	}
	if cfg.CronExpr != "" {
		sched, err := cronParser.Parse(cfg.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("parse sync cron expression %q: %w", cfg.CronExpr, err)
		}
		m.cronSched = sched
	}

	if raw, ok, err := m.ns.Get(context.Background(), storage.KeyOfflineQueue); err != nil {
		logger.Warn("offline queue unreadable, starting empty", "error", err)
	} else if ok {
		if err := json.Unmarshal(raw, &m.queue); err != nil {
			logger.Warn("offline queue corrupt, starting empty", "error", err)
			m.queue = nil
		}
	}
	return m, nil
}

// Start begins the periodic reconciliation loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("sync manager started", "interval", m.interval, "cron", m.cronSched != nil)
}

// Stop cancels the loop and any pending retry, then waits for exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Info("sync manager stopped")
}

// loop ticks on the configured schedule and attempts a cycle while online.
func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	for {
		wait := m.interval
		if m.cronSched != nil {
			wait = time.Until(m.cronSched.Next(time.Now()))
			if wait <= 0 {
				wait = time.Second
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			m.mu.Lock()
			online := m.online
			m.mu.Unlock()
			if online {
				m.reconcile(ctx, 0)
			}
		}
	}
}

// State returns a copy of the live sync state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Status:      m.status,
		LastSuccess: m.lastSuccess,
		Pending:     len(m.queue),
		LastError:   m.lastError,
	}
}

// Online reports current connectivity.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// RetriesFired returns how many scheduled retries have executed.
func (m *Manager) RetriesFired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retriesFired
}

// SetOffline forces the offline status and suspends automatic cycles. A
// pending retry is dropped.
func (m *Manager) SetOffline() {
	m.mu.Lock()
	m.online = false
	m.status = StatusOffline
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	m.logger.Info("connectivity lost, sync suspended")
	if m.bus != nil {
		m.bus.Publish(bus.TopicSyncOffline, nil)
	}
}

// SetOnline clears the offline status (back to idle, not success), resets
// retry accounting and immediately attempts one reconciliation.
func (m *Manager) SetOnline(ctx context.Context) {
	m.mu.Lock()
	already := m.online
	m.online = true
	m.status = StatusIdle
	m.retryCount = 0
	m.mu.Unlock()

	if already {
		return
	}
	m.logger.Info("connectivity restored")
	if m.bus != nil {
		m.bus.Publish(bus.TopicSyncOnline, nil)
	}
	m.reconcile(ctx, 0)
}

// SyncNow manually triggers one reconciliation cycle, clearing any retry
// halt. No-op while offline or while a cycle is in flight.
func (m *Manager) SyncNow(ctx context.Context) {
	m.mu.Lock()
	m.retryCount = 0
	online := m.online
	m.mu.Unlock()
	if !online {
		m.logger.Info("manual sync ignored while offline")
		return
	}
	m.reconcile(ctx, 0)
}

// QueueChange appends a change to the durable offline queue.
func (m *Manager) QueueChange(ctx context.Context, payload interface{}) {
	change := OfflineChange{Payload: payload, Timestamp: time.Now()}

	m.mu.Lock()
	m.queue = append(m.queue, change)
	snapshot := make([]OfflineChange, len(m.queue))
	copy(snapshot, m.queue)
	m.mu.Unlock()

	m.persistQueue(ctx, snapshot)
	if m.metrics != nil {
		m.metrics.OfflineQueueDepth.Add(ctx, 1)
	}
	m.logger.Debug("offline change queued", "pending", len(snapshot))
}

// PendingCount returns the offline queue length.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// QueuedChanges returns a copy of the offline queue in enqueue order.
func (m *Manager) QueuedChanges() []OfflineChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OfflineChange, len(m.queue))
	copy(out, m.queue)
	return out
}

func (m *Manager) persistQueue(ctx context.Context, snapshot []OfflineChange) {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		m.logger.Error("marshal offline queue failed", "error", err)
		return
	}
	if err := m.ns.Set(ctx, storage.KeyOfflineQueue, raw); err != nil {
		m.logger.Error("persist offline queue failed", "error", err)
	}
}

// reconcile runs one cycle. Self-excluding: a cycle never overlaps itself.
// attempt is 0 for scheduled/manual cycles and the retry number otherwise.
func (m *Manager) reconcile(ctx context.Context, attempt int) {
	m.mu.Lock()
	if m.inFlight || !m.online {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.status = StatusSyncing
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.TopicSyncStarted, bus.SyncCycleEvent{Retry: attempt})
	}
	if m.metrics != nil {
		m.metrics.SyncCycles.Add(ctx, 1)
	}

	err := m.remote.Roundtrip(ctx, "sync.reconcile")

	if err != nil {
		m.failCycle(ctx, attempt, err)
		return
	}
	m.completeCycle(ctx)
}

// completeCycle drains the offline queue in FIFO order, persists the empty
// queue and stamps the store's last-sync time.
func (m *Manager) completeCycle(ctx context.Context) {
	m.mu.Lock()
	// Offline preempts from any state: a disconnect that landed while the
	// round trip was in flight discards the cycle's outcome. The queue stays
	// intact for the next reconnect.
	if !m.online {
		m.inFlight = false
		m.status = StatusOffline
		m.mu.Unlock()
		m.logger.Debug("reconciliation outcome discarded, went offline mid-cycle")
		return
	}
	drained := m.queue
	m.queue = nil
	m.status = StatusSuccess
	m.lastSuccess = time.Now()
	m.lastError = ""
	m.retryCount = 0
	m.inFlight = false
	m.mu.Unlock()

	for i, change := range drained {
		// Replay is simulated: each entry is acknowledged in order.
		m.logger.Debug("offline change replayed", "index", i, "queued_at", change.Timestamp)
	}
	m.persistQueue(ctx, []OfflineChange{})
	if m.metrics != nil && len(drained) > 0 {
		m.metrics.OfflineQueueDepth.Add(ctx, -int64(len(drained)))
	}

	m.store.Synchronize(ctx)
	m.logger.Info("reconciliation succeeded", "drained", len(drained))
	if m.bus != nil {
		m.bus.Publish(bus.TopicSyncCompleted, bus.SyncCycleEvent{Drained: len(drained)})
	}
}

// failCycle records the failure and schedules exactly one retry while under
// the bound; past the bound, automatic retries halt until the next periodic
// tick or a manual trigger, and the failure surfaces as a notification.
func (m *Manager) failCycle(ctx context.Context, attempt int, err error) {
	m.mu.Lock()
	if !m.online {
		m.inFlight = false
		m.status = StatusOffline
		m.mu.Unlock()
		m.logger.Debug("reconciliation failure discarded, went offline mid-cycle", "error", err)
		return
	}
	m.status = StatusError
	m.lastError = err.Error()
	m.inFlight = false
	scheduleRetry := m.online && m.retryCount < m.maxRetries
	if scheduleRetry {
		m.retryCount++
	}
	nextAttempt := m.retryCount
	m.mu.Unlock()

	m.logger.Warn("reconciliation failed", "attempt", attempt, "error", err)
	if m.bus != nil {
		m.bus.Publish(bus.TopicSyncFailed, bus.SyncCycleEvent{Retry: attempt, Error: err.Error()})
	}

	if scheduleRetry {
		m.scheduleRetry(ctx, nextAttempt)
		return
	}

	m.logger.Error("automatic sync retries exhausted", "max_retries", m.maxRetries)
	if m.notifier != nil {
		m.notifier.SyncFailed(
			fmt.Sprintf("synchronization failed after %d retries: %v", m.maxRetries, err),
			func() { m.SyncNow(context.Background()) },
		)
	}
}

func (m *Manager) scheduleRetry(ctx context.Context, attempt int) {
	m.mu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(m.retryInterval, func() {
		m.mu.Lock()
		m.retryTimer = nil
		m.retriesFired++
		online := m.online
		m.mu.Unlock()
		if !online {
			return
		}
		if m.metrics != nil {
			m.metrics.SyncRetries.Add(ctx, 1)
		}
		if m.bus != nil {
			m.bus.Publish(bus.TopicSyncRetrying, bus.SyncCycleEvent{Retry: attempt})
		}
		m.reconcile(ctx, attempt)
	})
	m.mu.Unlock()
}
