package notify

import (
	"log/slog"
	"sync"
)

// Tier identifies a delivery channel tier. The presentation context picks
// exactly one tier per notification; callers never choose directly.
type Tier string

const (
	// TierPanel is the persistent side-panel form: all actions inline,
	// manual or timed dismiss.
	TierPanel Tier = "panel"
	// TierBanner is the transient banner form: at most two actions.
	TierBanner Tier = "banner"
	// TierNative is the system-level form: at most one primary action,
	// falling back to an in-app transient form when unavailable.
	TierNative Tier = "native"
)

// Rendering is what a channel receives for display. Actions are already
// trimmed to the tier's limit.
type Rendering struct {
	ID       string
	Title    string
	Message  string
	Severity string
	Actions  []Action
	Sound    bool
}

// Channel renders notifications for one tier. Rendering itself is outside
// this core; implementations may write to a terminal, a log, or a real UI.
type Channel interface {
	// Name returns the unique name of the channel (e.g. "panel").
	Name() string

	// Available reports whether the channel can render right now. The
	// native tier falls back to a transient form when this is false.
	Available() bool

	// Render displays a notification.
	Render(r Rendering) error

	// Remove withdraws a rendered notification.
	Remove(id string)
}

// LogChannel is the default Channel: it writes renderings to the logger.
// It keeps the daemon usable without any UI attached.
type LogChannel struct {
	ChannelName string
	Logger      *slog.Logger

	mu     sync.Mutex
	active map[string]Rendering
}

// NewLogChannel creates a LogChannel with the given name.
func NewLogChannel(name string, logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{
		ChannelName: name,
		Logger:      logger,
		active:      make(map[string]Rendering),
	}
}

func (c *LogChannel) Name() string    { return c.ChannelName }
func (c *LogChannel) Available() bool { return true }

func (c *LogChannel) Render(r Rendering) error {
	c.mu.Lock()
	c.active[r.ID] = r
	c.mu.Unlock()

	labels := make([]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		labels = append(labels, a.Label)
	}
	c.Logger.Info("notification",
		"channel", c.ChannelName,
		"id", r.ID,
		"severity", r.Severity,
		"title", r.Title,
		"message", r.Message,
		"actions", labels,
	)
	return nil
}

func (c *LogChannel) Remove(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// ActiveCount returns how many renderings are currently displayed.
func (c *LogChannel) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
