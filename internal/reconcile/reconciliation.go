package reconcile

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/snapshot"
	"github.com/maaaruch/gather-bot/internal/transport"
)

type State int

const (
	StateIdle State = iota
	StateReceived
	StateDisplaying
	StateMutating
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceived:
		return "received"
	case StateDisplaying:
		return "displaying"
	case StateMutating:
		return "mutating"
	case StatePublished:
		return "published"
	default:
		return "unknown"
	}
}

// Outcome describes what one action did. Applied is false when the action
// was absorbed as a no-op; nothing is published in that case.
type Outcome struct {
	Applied   bool
	Published bool
	Payload   string
	Receipt   transport.Receipt
	Aggregate domain.Aggregate
}

// Reconciliation is the life of one inbound snapshot. It is owned by a single
// caller and is not safe for concurrent use. Every mutation is computed from
// the snapshot decoded on Receive, including retries after a failed send.
type Reconciliation struct {
	engine      *Engine
	participant domain.ParticipantID
	inbound     transport.Inbound
	base        snapshot.Snapshot
	state       State
}

func (r *Reconciliation) State() State { return r.state }

func (r *Reconciliation) Snapshot() snapshot.Snapshot { return r.base }

// ReadOnly reports that the participant can no longer change this aggregate.
func (r *Reconciliation) ReadOnly() bool {
	return r.base.Kind == domain.KindPoll && r.base.Poll.HasVoted(r.participant)
}

// Dismiss ends a reconciliation that was only displayed.
func (r *Reconciliation) Dismiss() {
	if r.state == StateReceived || r.state == StateDisplaying {
		r.state = StateIdle
	}
}

// Vote casts the participant's choices. Single-select polls use the first
// valid index. Voting twice, on a bad index or on an event is a no-op.
func (r *Reconciliation) Vote(ctx context.Context, indices ...int) (Outcome, error) {
	if err := r.ready(); err != nil {
		return Outcome{}, err
	}
	if r.base.Kind != domain.KindPoll {
		return r.absorb(ctx, "vote"), nil
	}

	next, applied := r.base.Poll.ApplySelections(r.participant, indices)
	if !applied {
		return r.absorb(ctx, "vote"), nil
	}
	return r.publish(ctx, "vote", next)
}

// React sets the participant's reaction on an event. Repeating the current
// reaction, an empty symbol or a poll target is a no-op.
func (r *Reconciliation) React(ctx context.Context, symbol string) (Outcome, error) {
	if err := r.ready(); err != nil {
		return Outcome{}, err
	}
	symbol = strings.TrimSpace(symbol)
	// Repeating the current symbol would publish an identical snapshot.
	if r.base.Kind != domain.KindEvent || symbol == "" || r.base.Event.Reactions[r.participant] == symbol {
		return r.absorb(ctx, "react"), nil
	}

	return r.publish(ctx, "react", r.base.Event.ApplyReaction(r.participant, symbol))
}

func (r *Reconciliation) ready() error {
	switch r.state {
	case StateReceived, StateDisplaying, StateMutating:
		return nil
	default:
		return ErrClosed
	}
}

func (r *Reconciliation) absorb(ctx context.Context, action string) Outcome {
	r.engine.duplicates.Add(ctx, 1, metric.WithAttributes(attrAction.String(action)))
	if r.state == StateReceived && r.ReadOnly() {
		r.state = StateDisplaying
	}
	r.engine.log.Debug("action absorbed", "action", action, "kind", r.base.Kind, "fingerprint", r.base.Fingerprint)
	return Outcome{Aggregate: r.base.Aggregate()}
}

func (r *Reconciliation) publish(ctx context.Context, action string, next domain.Aggregate) (Outcome, error) {
	e := r.engine
	ctx, span := e.tracer.Start(ctx, "gather.mutate", trace.WithAttributes(
		attrKind.String(string(next.Kind())),
		attrAction.String(action),
	))
	defer span.End()

	r.state = StateMutating

	ref := r.inbound.Ref
	out, err := e.send(ctx, next, ref.ChatID, &ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return Outcome{Applied: true, Aggregate: next}, err
	}

	r.state = StatePublished
	e.applied.Add(ctx, 1, metric.WithAttributes(attrKind.String(string(next.Kind())), attrAction.String(action)))
	e.log.Info("snapshot published", "action", action, "kind", next.Kind(), "state", r.state)
	r.state = StateIdle

	out.Applied = true
	return out, nil
}
