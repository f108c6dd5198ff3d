// Package notify receives notification requests, records them in the data
// store and routes each to exactly one delivery tier chosen by the current
// presentation context. Notifications arriving while disconnected are
// queued and drained on reconnect.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/otel"
	"github.com/basket/agentdeck/internal/store"
)

// Request is an incoming notification.
type Request struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Type        string   `json:"type,omitempty"` // info|success|warning|error
	AutoClose   *bool    `json:"autoClose,omitempty"`
	OfflineSafe bool     `json:"offlineSafe,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
}

// Action is one notification action. Handler fires at most once; unless
// CloseOnClick is explicitly false, invoking the action also closes the
// notification.
type Action struct {
	Label        string `json:"label"`
	Handler      func() `json:"-"`
	CloseOnClick *bool  `json:"closeOnClick,omitempty"`
}

func (a Action) closes() bool {
	return a.CloseOnClick == nil || *a.CloseOnClick
}

// tierSettings is the per-tier configuration persisted in the settings
// record under the "notifications" key.
type tierSettings struct {
	Enabled          bool
	Sound            bool
	DurationMs       int
	UseNativeChannel bool
}

var defaultTierSettings = tierSettings{
	Enabled:          true,
	Sound:            false,
	DurationMs:       5000,
	UseNativeChannel: true,
}

// rendering tracks one displayed notification.
type rendering struct {
	channel      Channel
	actions      []Action
	fired        map[string]bool
	dismissTimer *time.Timer
}

// Config holds the dependencies for a Deliverer.
type Config struct {
	Store   *store.Store
	Bus     *bus.Bus
	Logger  *slog.Logger
	Metrics *otel.Metrics

	// TierFunc is the presentation context: it names the tier for the next
	// notification. Defaults to the panel tier.
	TierFunc func() Tier

	// Channels maps each tier to its renderer. Missing tiers fall back to
	// the banner channel.
	Channels map[Tier]Channel

	// DrainDelay spaces out queued notifications on reconnect.
	DrainDelay time.Duration
	// ExitDelay is the brief exit-animation window before removal.
	// Zero means the 200ms default; negative means remove immediately.
	ExitDelay time.Duration
}

// Deliverer routes notifications to delivery channels.
type Deliverer struct {
	store   *store.Store
	bus     *bus.Bus
	logger  *slog.Logger
	metrics *otel.Metrics

	tierFunc   func() Tier
	channels   map[Tier]Channel
	drainDelay time.Duration
	exitDelay  time.Duration

	mu       sync.Mutex
	online   bool
	queue    []Request // notifications held back while offline, FIFO
	active   map[string]*rendering
	draining bool
}

// New creates a Deliverer. If a bus is provided it follows the sync
// manager's connectivity topics automatically.
func New(cfg Config) *Deliverer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deliverer{
		store:      cfg.Store,
		bus:        cfg.Bus,
		logger:     logger,
		metrics:    cfg.Metrics,
		tierFunc:   cfg.TierFunc,
		channels:   cfg.Channels,
		drainDelay: cfg.DrainDelay,
		exitDelay:  cfg.ExitDelay,
		online:     true,
		active:     make(map[string]*rendering),
	}
	if d.tierFunc == nil {
		d.tierFunc = func() Tier { return TierPanel }
	}
	if d.channels == nil {
		d.channels = map[Tier]Channel{}
	}
	if d.drainDelay <= 0 {
		d.drainDelay = 300 * time.Millisecond
	}
	if d.exitDelay < 0 {
		d.exitDelay = 0
	} else if d.exitDelay == 0 {
		d.exitDelay = 200 * time.Millisecond
	}
	if d.bus != nil {
		d.bus.Subscribe(bus.TopicSyncOffline, func(bus.Event) { d.SetOnline(false) })
		d.bus.Subscribe(bus.TopicSyncOnline, func(bus.Event) { d.SetOnline(true) })
	}
	return d
}

// SetOnline updates connectivity. Going online starts draining the queue,
// one notification per step with a small delay between items.
func (d *Deliverer) SetOnline(online bool) {
	d.mu.Lock()
	was := d.online
	d.online = online
	startDrain := online && !was && len(d.queue) > 0 && !d.draining
	if startDrain {
		d.draining = true
	}
	d.mu.Unlock()

	if startDrain {
		go d.drain()
	}
}

// drain renders queued notifications in FIFO order, pacing them out.
func (d *Deliverer) drain() {
	for {
		d.mu.Lock()
		if !d.online || len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		req := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.render(req)
		time.Sleep(d.drainDelay)
	}
}

// Show records the notification and routes it to exactly one tier. Returns
// the notification id. While offline, a request not marked offline-safe is
// queued instead of rendered.
func (d *Deliverer) Show(ctx context.Context, req Request) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Type == "" {
		req.Type = store.SeverityInfo
	}

	actionRecords := make([]store.ActionRecord, 0, len(req.Actions))
	for _, a := range req.Actions {
		actionRecords = append(actionRecords, store.ActionRecord{
			Label:         a.Label,
			CloseOnInvoke: a.closes(),
		})
	}
	rec := d.store.AddNotification(ctx, store.NotificationRecord{
		ID:       req.ID,
		Title:    req.Title,
		Message:  req.Message,
		Severity: req.Type,
		Actions:  actionRecords,
	})
	req.ID = rec.ID

	d.mu.Lock()
	offline := !d.online
	if offline && !req.OfflineSafe {
		d.queue = append(d.queue, req)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.NotificationsQueued.Add(ctx, 1)
		}
		d.logger.Debug("notification queued while offline", "id", req.ID)
		if d.bus != nil {
			d.bus.Publish(bus.TopicNotifyQueued, bus.NotifyEvent{ID: req.ID, Severity: req.Type})
		}
		return req.ID
	}
	d.mu.Unlock()

	d.render(req)
	return req.ID
}

// render routes one notification to the tier chosen by the presentation
// context. Exactly one tier renders per call.
func (d *Deliverer) render(req Request) {
	tier := d.tierFunc()
	settings := d.tierSettingsFor(tier)
	if !settings.Enabled {
		d.logger.Debug("notification tier disabled", "tier", tier, "id", req.ID)
		return
	}

	actions := req.Actions
	channel := d.channels[tier]
	switch tier {
	case TierBanner:
		if len(actions) > 2 {
			actions = actions[:2]
		}
	case TierNative:
		if channel == nil || !channel.Available() || !settings.UseNativeChannel {
			// Native unavailable or disabled: fall back to the in-app
			// transient form, which keeps the banner's two-action limit.
			tier = TierBanner
			channel = d.channels[TierBanner]
			if len(actions) > 2 {
				actions = actions[:2]
			}
		} else if len(actions) > 1 {
			actions = actions[:1]
		}
	}
	if channel == nil {
		channel = d.channels[TierBanner]
	}
	if channel == nil {
		d.logger.Warn("no delivery channel for tier", "tier", tier, "id", req.ID)
		return
	}

	r := Rendering{
		ID:       req.ID,
		Title:    req.Title,
		Message:  req.Message,
		Severity: req.Type,
		Actions:  actions,
		Sound:    settings.Sound,
	}
	if err := channel.Render(r); err != nil {
		d.logger.Error("notification render failed", "channel", channel.Name(), "error", err)
		return
	}

	entry := &rendering{
		channel: channel,
		actions: actions,
		fired:   make(map[string]bool),
	}
	autoClose := req.AutoClose == nil || *req.AutoClose
	if autoClose && settings.DurationMs > 0 {
		id := req.ID
		entry.dismissTimer = time.AfterFunc(
			time.Duration(settings.DurationMs)*time.Millisecond,
			func() { d.Close(context.Background(), id) },
		)
	}

	d.mu.Lock()
	d.active[req.ID] = entry
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.NotificationsDelivered.Add(context.Background(), 1)
	}
	if d.bus != nil {
		d.bus.Publish(bus.TopicNotifyShown, bus.NotifyEvent{ID: req.ID, Severity: req.Type, Tier: string(tier)})
	}
}

// Close marks the notification read and withdraws its rendering after the
// exit window. Closing an unrendered or already-closed id only touches the
// read flag.
func (d *Deliverer) Close(ctx context.Context, id string) {
	d.store.MarkNotificationRead(ctx, id)

	d.mu.Lock()
	entry, ok := d.active[id]
	if ok {
		delete(d.active, id)
	}
	d.mu.Unlock()

	if !ok {
		return
	}
	if entry.dismissTimer != nil {
		entry.dismissTimer.Stop()
	}
	channel := entry.channel
	time.AfterFunc(d.exitDelay, func() { channel.Remove(id) })

	if d.bus != nil {
		d.bus.Publish(bus.TopicNotifyClosed, bus.NotifyEvent{ID: id})
	}
}

// InvokeAction fires the named action on a rendered notification. The
// handler runs at most once; unless the action opts out, the notification
// closes afterwards.
func (d *Deliverer) InvokeAction(ctx context.Context, id, label string) bool {
	d.mu.Lock()
	entry, ok := d.active[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	var action *Action
	for i := range entry.actions {
		if entry.actions[i].Label == label {
			action = &entry.actions[i]
			break
		}
	}
	if action == nil || entry.fired[label] {
		d.mu.Unlock()
		return false
	}
	entry.fired[label] = true
	d.mu.Unlock()

	if action.Handler != nil {
		action.Handler()
	}
	if action.closes() {
		d.Close(ctx, id)
	}
	return true
}

// ActiveCount returns how many notifications are currently rendered.
func (d *Deliverer) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// QueuedCount returns how many notifications await reconnection.
func (d *Deliverer) QueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// SyncFailed surfaces a reconciliation failure as an error notification
// with a manual retry action. Implements the sync manager's Notifier.
func (d *Deliverer) SyncFailed(message string, retry func()) {
	noAutoClose := false
	d.Show(context.Background(), Request{
		Title:       "Synchronization failed",
		Message:     message,
		Type:        store.SeverityError,
		AutoClose:   &noAutoClose,
		OfflineSafe: true,
		Actions: []Action{
			{Label: "Retry", Handler: retry},
		},
	})
}

// tierSettingsFor reads the tier's settings from the store, falling back to
// defaults per field group.
func (d *Deliverer) tierSettingsFor(tier Tier) tierSettings {
	out := defaultTierSettings
	settings := d.store.SettingsSnapshot()
	section, ok := settings["notifications"].(map[string]interface{})
	if !ok {
		return out
	}
	raw, ok := section[string(tier)].(map[string]interface{})
	if !ok {
		return out
	}
	if v, ok := raw["enabled"].(bool); ok {
		out.Enabled = v
	}
	if v, ok := raw["sound"].(bool); ok {
		out.Sound = v
	}
	if v, ok := raw["durationMs"]; ok {
		switch n := v.(type) {
		case int:
			out.DurationMs = n
		case float64:
			out.DurationMs = int(n)
		}
	}
	if v, ok := raw["useNativeChannel"].(bool); ok {
		out.UseNativeChannel = v
	}
	return out
}

// UpdateTierSettings persists one tier's settings through the store with a
// shallow merge of the notifications section.
func (d *Deliverer) UpdateTierSettings(ctx context.Context, tier Tier, s map[string]interface{}) {
	settings := d.store.SettingsSnapshot()
	section, ok := settings["notifications"].(map[string]interface{})
	if !ok {
		section = map[string]interface{}{}
	}
	section[string(tier)] = s
	d.store.UpdateSettings(ctx, store.Settings{"notifications": section})
}
