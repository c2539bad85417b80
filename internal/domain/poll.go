package domain

import (
	"fmt"
	"slices"
	"strings"
)

const MaxPollOptions = 5

// MaxVotes is the largest counter value a snapshot can carry exactly; counters
// saturate there instead of wrapping.
const MaxVotes = 1<<53 - 1

type PollOption struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

type Poll struct {
	Question      string          `json:"question"`
	Options       []PollOption    `json:"options"`
	IsMultiSelect bool            `json:"isMultiSelect"`
	VotedUserIDs  []ParticipantID `json:"votedUserIDs"`
}

// NewPoll builds a poll with an all-zero vote state. Blank options are
// skipped and anything past MaxPollOptions is dropped.
func NewPoll(question string, options []string, multiSelect bool) (Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Poll{}, fmt.Errorf("%w: question is required", ErrInvalidPoll)
	}

	opts := make([]PollOption, 0, MaxPollOptions)
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		opts = append(opts, PollOption{Text: o})
		if len(opts) == MaxPollOptions {
			break
		}
	}
	if len(opts) == 0 {
		return Poll{}, fmt.Errorf("%w: at least one option is required", ErrInvalidPoll)
	}

	return Poll{
		Question:      question,
		Options:       opts,
		IsMultiSelect: multiSelect,
		VotedUserIDs:  []ParticipantID{},
	}, nil
}

func (p Poll) HasVoted(participant ParticipantID) bool {
	return slices.Contains(p.VotedUserIDs, participant)
}

func (p Poll) TotalVotes() int {
	total := 0
	for _, o := range p.Options {
		total += o.Votes
	}
	return total
}

// Clone returns a deep copy so mutations never alias a decoded snapshot.
func (p Poll) Clone() Poll {
	c := p
	c.Options = slices.Clone(p.Options)
	c.VotedUserIDs = slices.Clone(p.VotedUserIDs)
	if c.VotedUserIDs == nil {
		c.VotedUserIDs = []ParticipantID{}
	}
	return c
}

// ApplyVote records one vote. It reports false and returns p untouched when
// the participant has already voted or index is out of range.
func (p Poll) ApplyVote(participant ParticipantID, index int) (Poll, bool) {
	return p.ApplySelections(participant, []int{index})
}

// ApplySelections folds all of one participant's choices into a single step.
// Duplicate and out-of-range indices are ignored; single-select polls keep
// only the first valid index. The voted set is not keyed by option, so once a
// participant is recorded any later pass is a no-op, including for options
// they did not pick.
func (p Poll) ApplySelections(participant ParticipantID, indices []int) (Poll, bool) {
	if p.HasVoted(participant) {
		return p, false
	}

	picked := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(p.Options) || slices.Contains(picked, i) {
			continue
		}
		picked = append(picked, i)
		if !p.IsMultiSelect {
			break
		}
	}
	if len(picked) == 0 {
		return p, false
	}

	next := p.Clone()
	for _, i := range picked {
		if next.Options[i].Votes < MaxVotes {
			next.Options[i].Votes++
		}
	}
	next.VotedUserIDs = append(next.VotedUserIDs, participant)
	return next, true
}
