package transport

import (
	"context"
	"errors"
	"strings"

	"github.com/maaaruch/gather-bot/internal/domain"
)

// ErrPayloadTooLarge is returned before any I/O when the rendered message
// does not fit the channel.
var ErrPayloadTooLarge = errors.New("payload too large for channel")

// Ref points at one delivered message in a conversation.
type Ref struct {
	ChatID    int64
	MessageID int
}

// Action is one interactive control rendered next to a payload.
type Action struct {
	Label string
	Data  string
}

type Outbound struct {
	Kind    domain.Kind
	ChatID  int64
	Payload string
	Summary string
	// ReplyTo set means the triggering message is replaced when the channel
	// allows it.
	ReplyTo *Ref
	Actions [][]Action
	Image   []byte
}

type Inbound struct {
	Payload string
	From    string
	Ref     Ref
}

type Receipt struct {
	Ref Ref
	// Replaced reports that the triggering message was edited in place.
	Replaced bool
}

// Sender hands one payload to the channel. Delivery is fire-and-forget: a nil
// error means the channel accepted the message, nothing more.
type Sender interface {
	Send(ctx context.Context, out Outbound) (Receipt, error)
}

const locatorPrefix = "https://gather."

// PayloadFromText picks the first snapshot locator out of free text.
func PayloadFromText(text string) (string, bool) {
	for _, f := range strings.Fields(text) {
		if strings.HasPrefix(f, locatorPrefix) {
			return f, true
		}
	}
	return "", false
}

// Render is the message body: summary, blank line, locator.
func Render(out Outbound) string {
	if out.Summary == "" {
		return out.Payload
	}
	return out.Summary + "\n\n" + out.Payload
}
