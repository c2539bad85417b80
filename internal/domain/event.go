package domain

import (
	"bytes"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/google/uuid"
)

type Event struct {
	ID        string                   `json:"id"`
	Title     string                   `json:"title"`
	Location  string                   `json:"location"`
	DateTime  string                   `json:"dateTime"`
	Details   string                   `json:"details"`
	ImageData []byte                   `json:"imageData"`
	Reactions map[ParticipantID]string `json:"reactions"`
}

// NewEvent assigns a fresh id. DateTime is free-form display text and is not
// parsed.
func NewEvent(title, location, dateTime, details string, image []byte) (Event, error) {
	title = strings.TrimSpace(title)
	location = strings.TrimSpace(location)
	dateTime = strings.TrimSpace(dateTime)
	switch {
	case title == "":
		return Event{}, fmt.Errorf("%w: title is required", ErrInvalidEvent)
	case dateTime == "":
		return Event{}, fmt.Errorf("%w: date and time are required", ErrInvalidEvent)
	case location == "":
		return Event{}, fmt.Errorf("%w: location is required", ErrInvalidEvent)
	}

	return Event{
		ID:        uuid.NewString(),
		Title:     title,
		Location:  location,
		DateTime:  dateTime,
		Details:   strings.TrimSpace(details),
		ImageData: image,
		Reactions: map[ParticipantID]string{},
	}, nil
}

func (e Event) Clone() Event {
	c := e
	c.ImageData = bytes.Clone(e.ImageData)
	c.Reactions = maps.Clone(e.Reactions)
	if c.Reactions == nil {
		c.Reactions = map[ParticipantID]string{}
	}
	return c
}

// ApplyReaction sets the participant's reaction, replacing any earlier one.
func (e Event) ApplyReaction(participant ParticipantID, symbol string) Event {
	next := e.Clone()
	next.Reactions[participant] = symbol
	return next
}

type ReactionCount struct {
	Symbol string
	Count  int
}

// ReactionSummary counts reactions per symbol, most popular first.
func (e Event) ReactionSummary() []ReactionCount {
	counts := make(map[string]int)
	for _, s := range e.Reactions {
		counts[s]++
	}

	out := make([]ReactionCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, ReactionCount{Symbol: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
