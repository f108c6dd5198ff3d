package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all agentdeck metrics instruments.
type Metrics struct {
	CommandsExecuted       metric.Int64Counter
	CommandsRejected       metric.Int64Counter
	SyncCycles             metric.Int64Counter
	SyncRetries            metric.Int64Counter
	OfflineQueueDepth      metric.Int64UpDownCounter
	NotificationsDelivered metric.Int64Counter
	NotificationsQueued    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CommandsExecuted, err = meter.Int64Counter("agentdeck.commands.executed",
		metric.WithDescription("Commands validated and executed"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandsRejected, err = meter.Int64Counter("agentdeck.commands.rejected",
		metric.WithDescription("Commands rejected at parse or validation"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncCycles, err = meter.Int64Counter("agentdeck.sync.cycles",
		metric.WithDescription("Reconciliation cycles attempted"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncRetries, err = meter.Int64Counter("agentdeck.sync.retries",
		metric.WithDescription("Reconciliation retries fired"),
	)
	if err != nil {
		return nil, err
	}

	m.OfflineQueueDepth, err = meter.Int64UpDownCounter("agentdeck.sync.offline_queue",
		metric.WithDescription("Offline changes currently queued"),
	)
	if err != nil {
		return nil, err
	}

	m.NotificationsDelivered, err = meter.Int64Counter("agentdeck.notifications.delivered",
		metric.WithDescription("Notifications rendered to a delivery tier"),
	)
	if err != nil {
		return nil, err
	}

	m.NotificationsQueued, err = meter.Int64Counter("agentdeck.notifications.queued",
		metric.WithDescription("Notifications queued while offline"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
