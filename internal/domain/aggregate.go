package domain

import "errors"

// ParticipantID is an opaque, locally generated identifier. It is only ever
// compared for equality.
type ParticipantID string

type Kind string

const (
	KindPoll  Kind = "poll"
	KindEvent Kind = "event"
)

var (
	ErrInvalidPoll  = errors.New("invalid poll")
	ErrInvalidEvent = errors.New("invalid event")
)

// Aggregate is the complete state object carried by one snapshot.
type Aggregate interface {
	Kind() Kind
}

func (Poll) Kind() Kind  { return KindPoll }
func (Event) Kind() Kind { return KindEvent }
