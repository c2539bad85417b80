package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/transport"
)

const (
	actionVote    = "vote"
	actionToggle  = "toggle"
	actionSubmit  = "submit"
	actionResults = "results"
	actionReact   = "react"
)

// Reactions offered on event cards. The first one is the classic.
var Reactions = []string{"🙌", "👍", "🎉", "❤️", "🤔"}

func parseCallback(data string) (action, arg string) {
	action, arg, _ = strings.Cut(data, ":")
	return action, arg
}

// Render is the summary and keyboard of a card. It only depends on the
// aggregate, so everyone sees the same message.
func Render(agg domain.Aggregate) (string, [][]transport.Action) {
	switch v := agg.(type) {
	case domain.Poll:
		return pollSummary(v), pollActions(v)
	case domain.Event:
		return eventSummary(v), eventActions()
	default:
		return "", nil
	}
}

func pollSummary(p domain.Poll) string {
	var sb strings.Builder
	sb.WriteString("Poll: " + p.Question + "\n")
	if p.IsMultiSelect {
		sb.WriteString("Pick any number of options, then Submit.\n")
	}
	sb.WriteString("Tap to vote or view results")
	if n := len(p.VotedUserIDs); n > 0 {
		sb.WriteString(fmt.Sprintf("\n👥 %d voted", n))
	}
	return sb.String()
}

func pollActions(p domain.Poll) [][]transport.Action {
	rows := make([][]transport.Action, 0, len(p.Options)+1)
	action := actionVote
	if p.IsMultiSelect {
		action = actionToggle
	}
	for i, o := range p.Options {
		rows = append(rows, []transport.Action{{Label: o.Text, Data: action + ":" + strconv.Itoa(i)}})
	}

	last := []transport.Action{{Label: "📊 Results", Data: actionResults}}
	if p.IsMultiSelect {
		last = append([]transport.Action{{Label: "✅ Submit", Data: actionSubmit}}, last...)
	}
	return append(rows, last)
}

func eventSummary(e domain.Event) string {
	var sb strings.Builder
	sb.WriteString("📅 " + e.Title + "\n")
	sb.WriteString("📍 " + e.Location + "\n")
	sb.WriteString("🕒 " + e.DateTime)
	if e.Details != "" {
		sb.WriteString("\n\n" + e.Details)
	}

	summary := e.ReactionSummary()
	if len(summary) > 0 {
		parts := make([]string, 0, len(summary))
		for _, rc := range summary {
			parts = append(parts, fmt.Sprintf("%s %d", rc.Symbol, rc.Count))
		}
		sb.WriteString("\n\nReactions: " + strings.Join(parts, " · "))
	}
	return sb.String()
}

func eventActions() [][]transport.Action {
	row := make([]transport.Action, 0, len(Reactions))
	for _, r := range Reactions {
		row = append(row, transport.Action{Label: r, Data: actionReact + ":" + r})
	}
	return [][]transport.Action{row}
}

// Results is the read-only view a participant gets after voting.
func Results(p domain.Poll) string {
	var sb strings.Builder
	sb.WriteString("📊 " + p.Question + "\n")

	total := p.TotalVotes()
	for _, o := range p.Options {
		pct := 0
		if total > 0 {
			pct = o.Votes * 100 / total
		}
		sb.WriteString(fmt.Sprintf("\n%s: %d (%d%%)", o.Text, o.Votes, pct))
	}
	sb.WriteString(fmt.Sprintf("\n\nVoters: %d", len(p.VotedUserIDs)))
	return sb.String()
}

func selectionText(p domain.Poll, selected []int) string {
	if len(selected) == 0 {
		return "Nothing selected"
	}
	names := make([]string, 0, len(selected))
	for _, i := range selected {
		if i >= 0 && i < len(p.Options) {
			names = append(names, p.Options[i].Text)
		}
	}
	return "Selected: " + strings.Join(names, ", ") + ". Tap Submit when ready."
}
