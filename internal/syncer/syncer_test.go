package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/remote"
	"github.com/basket/agentdeck/internal/storage"
	"github.com/basket/agentdeck/internal/store"
)

// recorder collects bus events thread-safely.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) record(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

func (r *recorder) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Topic == topic {
			n++
		}
	}
	return n
}

// blockingRemote holds every round trip until released.
type blockingRemote struct {
	entered chan struct{}
	release chan error
}

func (b *blockingRemote) Roundtrip(ctx context.Context, _ string) error {
	b.entered <- struct{}{}
	select {
	case err := <-b.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestManager(t *testing.T, r remote.Remote, opts ...func(*Config)) (*Manager, *storage.Memory, *bus.Bus, *recorder) {
	t.Helper()
	ns := storage.NewMemory()
	b := bus.New()
	rec := &recorder{}
	b.Subscribe("sync.", rec.record)

	cfg := Config{
		Store:         store.New(ns, b, nil),
		Namespace:     ns,
		Bus:           b,
		Remote:        r,
		RetryInterval: 10 * time.Millisecond,
		MaxRetries:    5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, ns, b, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestManager_SuccessfulCycle(t *testing.T) {
	ctx := context.Background()
	m, _, _, rec := newTestManager(t, &remote.Scripted{})

	m.SyncNow(ctx)

	st := m.State()
	if st.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", st.Status)
	}
	if st.LastSuccess.IsZero() {
		t.Fatal("last success not stamped")
	}
	if rec.count(bus.TopicSyncStarted) != 1 || rec.count(bus.TopicSyncCompleted) != 1 {
		t.Fatalf("events = %v", rec.topics())
	}
}

func TestManager_CycleStampsStoreLastSync(t *testing.T) {
	ctx := context.Background()
	ns := storage.NewMemory()
	b := bus.New()
	st := store.New(ns, b, nil)
	m, err := NewManager(Config{Store: st, Namespace: ns, Bus: b, Remote: &remote.Scripted{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if !st.LastSync().IsZero() {
		t.Fatal("precondition: last sync should be zero")
	}
	m.SyncNow(ctx)
	if st.LastSync().IsZero() {
		t.Fatal("successful cycle must trigger the store's synchronize")
	}
}

func TestManager_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	br := &blockingRemote{entered: make(chan struct{}, 2), release: make(chan error, 2)}
	m, _, _, rec := newTestManager(t, br)

	go m.SyncNow(ctx)
	<-br.entered // first cycle is now in flight

	m.SyncNow(ctx) // must be excluded, returns without a round trip

	if got := rec.count(bus.TopicSyncStarted); got != 1 {
		t.Fatalf("started events = %d, want 1 (no overlapping cycles)", got)
	}

	br.release <- nil
	waitFor(t, "first cycle completion", func() bool {
		return rec.count(bus.TopicSyncCompleted) == 1
	})

	// With the cycle finished, a new one may start.
	go m.SyncNow(ctx)
	<-br.entered
	br.release <- nil
	waitFor(t, "second cycle completion", func() bool {
		return rec.count(bus.TopicSyncCompleted) == 2
	})
}

func TestManager_OfflineQueueFIFOAndDurability(t *testing.T) {
	ctx := context.Background()
	m, ns, _, _ := newTestManager(t, &remote.Scripted{})

	m.SetOffline()
	for _, p := range []string{"first", "second", "third"} {
		m.QueueChange(ctx, p)
	}

	queued := m.QueuedChanges()
	if len(queued) != 3 {
		t.Fatalf("pending = %d, want 3", len(queued))
	}
	for i, want := range []string{"first", "second", "third"} {
		if queued[i].Payload != want {
			t.Fatalf("queue[%d] = %v, want %q (FIFO order)", i, queued[i].Payload, want)
		}
		if queued[i].Timestamp.IsZero() {
			t.Fatalf("queue[%d] missing timestamp", i)
		}
	}
	if m.PendingCount() != 3 {
		t.Fatalf("pending count = %d, want 3", m.PendingCount())
	}

	// The queue survives a restart.
	restored, err := NewManager(Config{
		Store:     store.New(ns, bus.New(), nil),
		Namespace: ns,
		Remote:    &remote.Scripted{},
	})
	if err != nil {
		t.Fatalf("restore manager: %v", err)
	}
	got := restored.QueuedChanges()
	if len(got) != 3 || got[0].Payload != "first" || got[2].Payload != "third" {
		t.Fatalf("restored queue = %+v", got)
	}
}

func TestManager_ReconnectDrainsQueue(t *testing.T) {
	ctx := context.Background()
	m, ns, b, rec := newTestManager(t, &remote.Scripted{})

	m.SetOffline()
	if st := m.State(); st.Status != StatusOffline {
		t.Fatalf("status = %s, want offline", st.Status)
	}
	m.QueueChange(ctx, "queued-change")

	// SyncNow is a no-op while offline.
	m.SyncNow(ctx)
	if rec.count(bus.TopicSyncStarted) != 0 {
		t.Fatal("cycle ran while offline")
	}

	// Reconnect clears offline to idle (not success), then reconciles.
	var statusAtOnline Status
	b.Subscribe(bus.TopicSyncOnline, func(bus.Event) {
		statusAtOnline = m.State().Status
	})

	m.SetOnline(ctx)

	if statusAtOnline != StatusIdle {
		t.Fatalf("status on reconnect = %s, want idle", statusAtOnline)
	}
	if m.PendingCount() != 0 {
		t.Fatalf("pending after drain = %d, want 0", m.PendingCount())
	}
	if m.State().Status != StatusSuccess {
		t.Fatalf("status = %s, want success after drain", m.State().Status)
	}

	// The persisted queue slot is now empty.
	raw, ok, err := ns.Get(ctx, storage.KeyOfflineQueue)
	if err != nil || !ok {
		t.Fatalf("queue slot missing: ok = %v, err = %v", ok, err)
	}
	if string(raw) != "[]" {
		t.Fatalf("persisted queue = %s, want []", raw)
	}
}

func TestManager_RetriesThenRecovers(t *testing.T) {
	ctx := context.Background()
	scripted := &remote.Scripted{Outcomes: []error{
		remote.ErrNetwork, remote.ErrNetwork, remote.ErrNetwork,
	}}
	m, _, _, rec := newTestManager(t, scripted)

	m.SyncNow(ctx) // initial attempt fails, schedules retry 1

	if m.State().Status != StatusError {
		t.Fatalf("status after failure = %s, want error", m.State().Status)
	}

	waitFor(t, "recovery after three failures", func() bool {
		return rec.count(bus.TopicSyncCompleted) == 1
	})

	if got := m.RetriesFired(); got != 3 {
		t.Fatalf("retries fired = %d, want 3", got)
	}
	if got := rec.count(bus.TopicSyncFailed); got != 3 {
		t.Fatalf("failure events = %d, want 3", got)
	}
	if got := scripted.Calls(); got != 4 {
		t.Fatalf("round trips = %d, want 4 (1 initial + 3 retries)", got)
	}
}

// failNotifier records the sync-failure surface.
type failNotifier struct {
	mu       sync.Mutex
	messages []string
	retry    func()
}

func (f *failNotifier) SyncFailed(message string, retry func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	f.retry = retry
}

func (f *failNotifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestManager_RetryBoundHaltsAndNotifies(t *testing.T) {
	ctx := context.Background()
	outcomes := make([]error, 50)
	for i := range outcomes {
		outcomes[i] = remote.ErrNetwork
	}
	notifier := &failNotifier{}
	m, _, _, _ := newTestManager(t, &remote.Scripted{Outcomes: outcomes},
		func(c *Config) {
			c.MaxRetries = 3
			c.Notifier = notifier
		})

	m.SyncNow(ctx)

	waitFor(t, "retry exhaustion notification", func() bool {
		return notifier.calls() == 1
	})
	if got := m.RetriesFired(); got != 3 {
		t.Fatalf("retries fired = %d, want exactly maxRetries (3)", got)
	}

	// No further automatic retries fire.
	time.Sleep(60 * time.Millisecond)
	if got := m.RetriesFired(); got != 3 {
		t.Fatalf("retries kept firing after the bound: %d", got)
	}
	if m.State().Status != StatusError {
		t.Fatalf("status = %s, want error", m.State().Status)
	}

	// The notification's retry action is a manual trigger that resets the
	// retry budget.
	notifier.retry()
	waitFor(t, "retries resume after manual trigger", func() bool {
		return m.RetriesFired() > 3
	})
}

func TestManager_OfflinePreemptsInFlightCycle(t *testing.T) {
	ctx := context.Background()
	br := &blockingRemote{entered: make(chan struct{}, 1), release: make(chan error, 1)}
	m, _, _, rec := newTestManager(t, br)

	m.QueueChange(ctx, "buffered")

	done := make(chan struct{})
	go func() {
		m.SyncNow(ctx)
		close(done)
	}()
	<-br.entered // cycle is in flight

	m.SetOffline() // preempts from any state, including mid-cycle
	br.release <- nil
	<-done

	if got := m.State().Status; got != StatusOffline {
		t.Fatalf("status = %s, want offline (offline preempts a cycle in flight)", got)
	}
	if m.Online() {
		t.Fatal("manager reports online after SetOffline")
	}
	// The discarded cycle must not have drained the queue.
	if m.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1 (queue kept for reconnect)", m.PendingCount())
	}
	if rec.count(bus.TopicSyncCompleted) != 0 {
		t.Fatalf("completed events while offline = %v", rec.topics())
	}

	// Reconnect drains the kept queue.
	go func() {
		<-br.entered
		br.release <- nil
	}()
	m.SetOnline(ctx)
	if m.PendingCount() != 0 {
		t.Fatalf("pending after reconnect = %d, want 0", m.PendingCount())
	}
}

func TestManager_OfflinePreemptsInFlightFailure(t *testing.T) {
	ctx := context.Background()
	br := &blockingRemote{entered: make(chan struct{}, 1), release: make(chan error, 1)}
	notifier := &failNotifier{}
	m, _, _, rec := newTestManager(t, br, func(c *Config) { c.Notifier = notifier })

	done := make(chan struct{})
	go func() {
		m.SyncNow(ctx)
		close(done)
	}()
	<-br.entered

	m.SetOffline()
	br.release <- remote.ErrNetwork
	<-done

	if got := m.State().Status; got != StatusOffline {
		t.Fatalf("status = %s, want offline (failure mid-disconnect is discarded)", got)
	}
	if rec.count(bus.TopicSyncFailed) != 0 {
		t.Fatalf("failed events while offline = %v", rec.topics())
	}
	// No retry is scheduled and the failure never surfaces as a notification.
	time.Sleep(50 * time.Millisecond)
	if m.RetriesFired() != 0 {
		t.Fatalf("retries fired = %d, want 0", m.RetriesFired())
	}
	if notifier.calls() != 0 {
		t.Fatalf("notifier calls = %d, want 0", notifier.calls())
	}
}

func TestManager_OfflineDropsPendingRetry(t *testing.T) {
	ctx := context.Background()
	outcomes := []error{remote.ErrNetwork}
	m, _, _, rec := newTestManager(t, &remote.Scripted{Outcomes: outcomes},
		func(c *Config) { c.RetryInterval = 50 * time.Millisecond })

	m.SyncNow(ctx) // fails, schedules a retry
	m.SetOffline() // must cancel it

	time.Sleep(120 * time.Millisecond)
	if got := m.RetriesFired(); got != 0 {
		t.Fatalf("retry fired while offline: %d", got)
	}
	if rec.count(bus.TopicSyncStarted) != 1 {
		t.Fatalf("started events = %v", rec.topics())
	}
}

func TestManager_PeriodicLoop(t *testing.T) {
	m, _, _, rec := newTestManager(t, &remote.Scripted{},
		func(c *Config) { c.Interval = 20 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, "two periodic cycles", func() bool {
		return rec.count(bus.TopicSyncCompleted) >= 2
	})
}

func TestManager_CronExpression(t *testing.T) {
	_, err := NewManager(Config{
		Store:     store.New(storage.NewMemory(), nil, nil),
		Namespace: storage.NewMemory(),
		Remote:    &remote.Scripted{},
		CronExpr:  "not a cron expr",
	})
	if err == nil {
		t.Fatal("invalid cron expression accepted")
	}

	m, err := NewManager(Config{
		Store:     store.New(storage.NewMemory(), nil, nil),
		Namespace: storage.NewMemory(),
		Remote:    &remote.Scripted{},
		CronExpr:  "*/5 * * * *",
	})
	if err != nil {
		t.Fatalf("valid cron expression rejected: %v", err)
	}
	if m.cronSched == nil {
		t.Fatal("cron schedule not retained")
	}
}
