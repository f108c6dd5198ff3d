package syncer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/basket/agentdeck/internal/bus"
	"github.com/basket/agentdeck/internal/storage"
)

// SaveViewState persists an opaque presentation-state blob and writes the
// cross-instance signal. Another instance watching the signal file reloads
// the blob; concurrent writers race and the last write wins.
func (m *Manager) SaveViewState(ctx context.Context, blob []byte, signalPath string) error {
	if err := m.ns.Set(ctx, storage.KeyViewState, blob); err != nil {
		return fmt.Errorf("persist view state: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := m.ns.Set(ctx, storage.KeyViewSignal, []byte(stamp)); err != nil {
		m.logger.Warn("persist view-state signal failed", "error", err)
	}
	if signalPath != "" {
		if err := os.WriteFile(signalPath, []byte(stamp), 0o644); err != nil {
			m.logger.Warn("write view-state signal file failed", "path", signalPath, "error", err)
		}
	}
	if m.bus != nil {
		m.bus.Publish(bus.TopicViewStateSaved, stamp)
	}
	return nil
}

// LoadViewState returns the persisted presentation-state blob, if any.
func (m *Manager) LoadViewState(ctx context.Context) ([]byte, bool, error) {
	blob, ok, err := m.ns.Get(ctx, storage.KeyViewState)
	if err != nil {
		return nil, false, fmt.Errorf("load view state: %w", err)
	}
	return blob, ok, nil
}
