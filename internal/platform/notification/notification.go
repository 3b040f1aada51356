// Package notification dispatches workflow events to staff. Delivery is
// fire-and-forget: a failed delivery is logged and counted, never returned
// to the operation that produced it.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital/internal/platform/telemetry"
	"github.com/ehr/hospital/internal/platform/websocket"
)

// Event names.
const (
	EventNewAppointment  = "new_appointment"
	EventNewPrescription = "new_prescription"
	EventDispenseUpdate  = "dispense_update"
)

// Target is a delivery address: one user or one broadcast channel.
type Target struct {
	Topic string
}

// User addresses a single staff member.
func User(id uuid.UUID) Target { return Target{Topic: websocket.UserTopic(id)} }

// Pharmacy addresses every pharmacy operator of a hospital.
func Pharmacy(hospitalID uuid.UUID) Target { return Target{Topic: websocket.PharmacyTopic(hospitalID)} }

type Notification struct {
	Target  Target                 `json:"target"`
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
}

// Notifier is what workflow services call after a commit.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Sink delivers one notification over one transport.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Dispatcher fans a notification out to its sinks on a background
// goroutine, detached from the request context.
type Dispatcher struct {
	sinks   []Sink
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	timeout time.Duration
	async   bool
}

type Option func(*Dispatcher)

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option { return func(ds *Dispatcher) { ds.timeout = d } }

// WithMetrics counts every delivery attempt.
func WithMetrics(m *telemetry.Metrics) Option { return func(ds *Dispatcher) { ds.metrics = m } }

// Synchronous delivers on the calling goroutine. Used by tests.
func Synchronous() Option { return func(ds *Dispatcher) { ds.async = false } }

func NewDispatcher(logger zerolog.Logger, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		logger:  logger,
		timeout: 3 * time.Second,
		async:   true,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	ctx = context.WithoutCancel(ctx)
	if d.async {
		go d.deliver(ctx, n)
		return
	}
	d.deliver(ctx, n)
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, s := range d.sinks {
		dctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := safeDeliver(dctx, s, n)
		cancel()

		d.metrics.Delivery(n.Event, s.Name(), err)
		if err != nil {
			d.logger.Warn().Err(err).
				Str("sink", s.Name()).
				Str("event", n.Event).
				Str("topic", n.Target.Topic).
				Msg("notification delivery failed")
		}
	}
}

func safeDeliver(ctx context.Context, s Sink, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return s.Deliver(ctx, n)
}

type panicError struct{ value interface{} }

func (p *panicError) Error() string { return "sink panicked" }

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// HubSink delivers to WebSocket clients connected to this process.
type HubSink struct {
	hub *websocket.Hub
}

func NewHubSink(hub *websocket.Hub) *HubSink { return &HubSink{hub: hub} }

func (s *HubSink) Name() string { return "hub" }

func (s *HubSink) Deliver(_ context.Context, n Notification) error {
	s.hub.Broadcast(n.Target.Topic, websocket.Message{Event: n.Event, Data: n.Payload})
	return nil
}
