// Package reconcile turns inbound snapshots into displayable state and local
// actions into outbound snapshots. Each delivery gets its own Reconciliation;
// the Engine holds no per-aggregate state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/snapshot"
	"github.com/maaaruch/gather-bot/internal/transport"
)

const instrumentationName = "github.com/maaaruch/gather-bot/internal/reconcile"

var (
	ErrTransportSend = errors.New("transport send failed")
	ErrClosed        = errors.New("reconciliation closed")
)

var (
	attrKind   = attribute.Key("gather.kind")
	attrAction = attribute.Key("gather.action")
	attrState  = attribute.Key("gather.state")
)

type Codec interface {
	Encode(agg domain.Aggregate) (string, error)
	Decode(payload string) (snapshot.Snapshot, error)
}

// Renderer adds the human readable part of an outbound message.
type Renderer func(agg domain.Aggregate) (summary string, actions [][]transport.Action)

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithRenderer(r Renderer) Option {
	return func(e *Engine) { e.render = r }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(instrumentationName) }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meter = mp.Meter(instrumentationName) }
}

type Engine struct {
	codec  Codec
	sender transport.Sender
	render Renderer
	log    *slog.Logger

	tracer trace.Tracer
	meter  metric.Meter

	applied        metric.Int64Counter
	duplicates     metric.Int64Counter
	decodeFailures metric.Int64Counter
	sendFailures   metric.Int64Counter
}

func New(codec Codec, sender transport.Sender, opts ...Option) *Engine {
	e := &Engine{
		codec:  codec,
		sender: sender,
		render: func(domain.Aggregate) (string, [][]transport.Action) { return "", nil },
		log:    slog.Default(),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, o := range opts {
		o(e)
	}

	e.applied = e.counter("gather.mutations.applied", "Mutations applied and published")
	e.duplicates = e.counter("gather.mutations.absorbed", "Mutations absorbed as no-ops")
	e.decodeFailures = e.counter("gather.decode.failures", "Inbound payloads that failed to decode")
	e.sendFailures = e.counter("gather.send.failures", "Outbound payloads the transport rejected")
	return e
}

func (e *Engine) counter(name, desc string) metric.Int64Counter {
	c, err := e.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		e.log.Warn("create counter", "name", name, "error", err)
		c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return c
}

// Publish sends a freshly authored aggregate. replyTo may be nil.
func (e *Engine) Publish(ctx context.Context, agg domain.Aggregate, chatID int64, replyTo *transport.Ref) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "gather.publish", trace.WithAttributes(attrKind.String(string(agg.Kind()))))
	defer span.End()

	out, err := e.send(ctx, agg, chatID, replyTo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return Outcome{}, err
	}
	out.Applied = true
	return out, nil
}

// Receive decodes one inbound delivery for the given participant. On decode
// failure the returned Reconciliation is Idle and the error says why there is
// nothing to display.
func (e *Engine) Receive(ctx context.Context, in transport.Inbound, participant domain.ParticipantID) (*Reconciliation, error) {
	_, span := e.tracer.Start(ctx, "gather.receive")
	defer span.End()

	r := &Reconciliation{
		engine:      e,
		participant: participant,
		inbound:     in,
		state:       StateIdle,
	}

	snap, err := e.codec.Decode(in.Payload)
	if err != nil {
		e.decodeFailures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		e.log.Info("inbound payload ignored", "from", in.From, "error", err)
		return r, fmt.Errorf("receive: %w", err)
	}

	r.base = snap
	r.state = StateReceived
	if snap.Kind == domain.KindPoll && snap.Poll.HasVoted(participant) {
		r.state = StateDisplaying
	}

	span.SetAttributes(attrKind.String(string(snap.Kind)), attrState.String(r.state.String()))
	e.log.Debug("snapshot received", "kind", snap.Kind, "fingerprint", snap.Fingerprint, "state", r.state)
	return r, nil
}

func (e *Engine) send(ctx context.Context, agg domain.Aggregate, chatID int64, replyTo *transport.Ref) (Outcome, error) {
	payload, err := e.codec.Encode(agg)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode: %w", err)
	}

	summary, actions := e.render(agg)
	out := transport.Outbound{
		Kind:    agg.Kind(),
		ChatID:  chatID,
		Payload: payload,
		Summary: summary,
		ReplyTo: replyTo,
		Actions: actions,
	}
	if ev, ok := agg.(domain.Event); ok {
		out.Image = ev.ImageData
	}

	receipt, err := e.sender.Send(ctx, out)
	if err != nil {
		e.sendFailures.Add(ctx, 1, metric.WithAttributes(attrKind.String(string(agg.Kind()))))
		e.log.Warn("snapshot not delivered", "kind", agg.Kind(), "error", err)
		return Outcome{}, fmt.Errorf("%w: %w", ErrTransportSend, err)
	}

	return Outcome{
		Published: true,
		Payload:   payload,
		Receipt:   receipt,
		Aggregate: agg,
	}, nil
}
