package relay

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"online-cinema-support/backend/pkg/logger"
)

// Metrics holds the relay's OpenTelemetry instruments. With no meter
// provider configured the instruments are no-ops, so the hub can always
// record unconditionally.
type Metrics struct {
	connections metric.Int64UpDownCounter
	envelopes   metric.Int64Counter
	replies     metric.Int64Counter
}

// NewMetrics registers the relay instruments on the global meter.
func NewMetrics(log *logger.Logger) *Metrics {
	meter := otel.Meter("support-relay")
	m := &Metrics{}
	var err error

	if m.connections, err = meter.Int64UpDownCounter("relay_active_connections"); err != nil {
		log.LogError(err, "failed to create connections counter")
	}
	if m.envelopes, err = meter.Int64Counter("relay_envelopes_total"); err != nil {
		log.LogError(err, "failed to create envelopes counter")
	}
	if m.replies, err = meter.Int64Counter("relay_scripted_replies_total"); err != nil {
		log.LogError(err, "failed to create replies counter")
	}
	return m
}

func (m *Metrics) connOpened() {
	if m.connections != nil {
		m.connections.Add(context.Background(), 1)
	}
}

func (m *Metrics) connClosed() {
	if m.connections != nil {
		m.connections.Add(context.Background(), -1)
	}
}

func (m *Metrics) envelopeReceived(kind string) {
	if m.envelopes != nil {
		m.envelopes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *Metrics) replySent() {
	if m.replies != nil {
		m.replies.Add(context.Background(), 1)
	}
}
