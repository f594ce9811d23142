// Package observe provides observability primitives for Voxwire:
// OpenTelemetry metrics and the session observer that feeds them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/arveliot/voxwire/pkg/session"
)

// meterName is the instrumentation scope name used for all Voxwire metrics.
const meterName = "github.com/arveliot/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks the total active time of finished sessions.
	SessionDuration metric.Float64Histogram

	// SessionsStarted counts sessions that reached the active state.
	SessionsStarted metric.Int64Counter

	// SessionsEnded counts finished sessions. Use with attribute:
	//   attribute.String("state", ...)
	SessionsEnded metric.Int64Counter

	// FramesSent counts outbound microphone frames.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames discarded because the link was
	// down or the write failed.
	FramesDropped metric.Int64Counter

	// BytesSent counts outbound audio payload bytes.
	BytesSent metric.Int64Counter

	// ChunksReceived counts inbound assistant audio chunks.
	ChunksReceived metric.Int64Counter

	// BytesReceived counts inbound assistant audio payload bytes.
	BytesReceived metric.Int64Counter

	// DecodeErrors counts inbound chunks discarded as undecodable.
	DecodeErrors metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// durationBuckets defines histogram bucket boundaries (in seconds) sized for
// conversation lengths.
var durationBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("voxwire.session.duration",
		metric.WithDescription("Active time of finished voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("voxwire.sessions.started",
		metric.WithDescription("Total sessions that reached the active state."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("voxwire.sessions.ended",
		metric.WithDescription("Total finished sessions by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voxwire.frames.sent",
		metric.WithDescription("Total outbound microphone frames."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxwire.frames.dropped",
		metric.WithDescription("Total microphone frames discarded while the link was down."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voxwire.bytes.sent",
		metric.WithDescription("Total outbound audio payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voxwire.chunks.received",
		metric.WithDescription("Total inbound assistant audio chunks."),
	); err != nil {
		return nil, err
	}
	if met.BytesReceived, err = m.Int64Counter("voxwire.bytes.received",
		metric.WithDescription("Total inbound assistant audio payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voxwire.decode.errors",
		metric.WithDescription("Total inbound chunks discarded as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxwire.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// SessionObserver adapts a [Metrics] instance to the [session.Observer]
// interface so sessions feed the instruments directly.
type SessionObserver struct {
	Metrics *Metrics
}

var _ session.Observer = (*SessionObserver)(nil)

// NewSessionObserver returns a SessionObserver recording into m.
func NewSessionObserver(m *Metrics) *SessionObserver {
	return &SessionObserver{Metrics: m}
}

func (o *SessionObserver) SessionStarted() {
	ctx := context.Background()
	o.Metrics.SessionsStarted.Add(ctx, 1)
	o.Metrics.ActiveSessions.Add(ctx, 1)
}

func (o *SessionObserver) SessionEnded(state session.State, duration time.Duration) {
	ctx := context.Background()
	o.Metrics.SessionsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("state", state.String())),
	)
	o.Metrics.SessionDuration.Record(ctx, duration.Seconds())
	o.Metrics.ActiveSessions.Add(ctx, -1)
}

func (o *SessionObserver) FrameSent(bytes int) {
	ctx := context.Background()
	o.Metrics.FramesSent.Add(ctx, 1)
	o.Metrics.BytesSent.Add(ctx, int64(bytes))
}

func (o *SessionObserver) FrameDropped() {
	o.Metrics.FramesDropped.Add(context.Background(), 1)
}

func (o *SessionObserver) ChunkReceived(bytes int) {
	ctx := context.Background()
	o.Metrics.ChunksReceived.Add(ctx, 1)
	o.Metrics.BytesReceived.Add(ctx, int64(bytes))
}

func (o *SessionObserver) DecodeError() {
	o.Metrics.DecodeErrors.Add(context.Background(), 1)
}
