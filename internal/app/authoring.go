package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/reconcile"
	"github.com/maaaruch/gather-bot/internal/transport"
)

// maxImageBytes bounds the thumbnail embedded in an event. Anything larger
// could never fit a Telegram message once base64 encoded.
const maxImageBytes = 2048

const helpText = "Hi! I run polls and events that live entirely inside the chat.\n\n" +
	"/poll Question | Option 1 | Option 2 ... – single answer poll (up to 5 options)\n" +
	"/multipoll Question | Option 1 | Option 2 ... – several answers allowed\n" +
	"/event Title | Location | Date and time | Details – event card with reactions\n" +
	"Send a photo with an /event caption to attach a small preview.\n\n" +
	"Every card carries its own state. Forward it anywhere and I will keep it going."

func (a *App) handlePoll(ctx context.Context, msg *tgbotapi.Message, multi bool) {
	args := msg.CommandArguments()
	parts := splitPipeArgs(args, -1)
	if len(parts) < 2 {
		a.reply(msg.Chat.ID, "Format: /"+msg.Command()+" Question | Option 1 | Option 2\nExample: /poll Lunch? | Pizza | Sushi")
		return
	}

	poll, err := domain.NewPoll(parts[0], parts[1:], multi)
	if err != nil {
		a.reply(msg.Chat.ID, "Could not create the poll: "+err.Error())
		return
	}
	if len(parts)-1 > domain.MaxPollOptions {
		a.reply(msg.Chat.ID, fmt.Sprintf("Only the first %d options were kept.", domain.MaxPollOptions))
	}

	if _, err := a.engine.Publish(ctx, poll, msg.Chat.ID, nil); err != nil {
		a.log.Warn("publish poll", "error", err)
		a.reply(msg.Chat.ID, publishFailureText(err))
		return
	}
	a.log.Info("poll created", "chat", msg.Chat.ID, "options", len(poll.Options), "multi", multi)
}

func (a *App) handleEvent(ctx context.Context, msg *tgbotapi.Message, args string, photo []tgbotapi.PhotoSize) {
	parts := splitPipeArgs(args, 4)
	if len(parts) < 3 {
		a.reply(msg.Chat.ID, "Format: /event Title | Location | Date and time | Details\nExample: /event Board games | Cafe Luna | Friday 19:00 | Bring snacks")
		return
	}
	details := ""
	if len(parts) == 4 {
		details = parts[3]
	}

	var image []byte
	if len(photo) > 0 {
		img, err := a.downloadPhoto(ctx, photo)
		if err != nil {
			a.log.Warn("download event photo", "error", err)
		}
		image = img
	}

	event, err := domain.NewEvent(parts[0], parts[1], parts[2], details, image)
	if err != nil {
		a.reply(msg.Chat.ID, "Could not create the event: "+err.Error())
		return
	}

	_, err = a.engine.Publish(ctx, event, msg.Chat.ID, nil)
	if errors.Is(err, transport.ErrPayloadTooLarge) && len(event.ImageData) > 0 {
		a.log.Info("event too large with image, sending without", "bytes", len(event.ImageData))
		event.ImageData = nil
		_, err = a.engine.Publish(ctx, event, msg.Chat.ID, nil)
	}
	if err != nil {
		a.log.Warn("publish event", "error", err)
		a.reply(msg.Chat.ID, publishFailureText(err))
		return
	}
	a.log.Info("event created", "chat", msg.Chat.ID, "image", len(event.ImageData) > 0)
}

// downloadPhoto fetches the smallest rendition Telegram offers, or nothing if
// even that exceeds maxImageBytes.
func (a *App) downloadPhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) ([]byte, error) {
	smallest := sizes[0]
	for _, s := range sizes[1:] {
		if s.FileSize > 0 && (smallest.FileSize == 0 || s.FileSize < smallest.FileSize) {
			smallest = s
		}
	}
	if smallest.FileSize > maxImageBytes {
		return nil, nil
	}

	url, err := a.bot.GetFileDirectURL(smallest.FileID)
	if err != nil {
		return nil, fmt.Errorf("file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch photo: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, nil
	}
	return data, nil
}

func publishFailureText(err error) string {
	switch {
	case errors.Is(err, transport.ErrPayloadTooLarge):
		return "That is too long to fit in one message. Try shorter texts."
	case errors.Is(err, reconcile.ErrTransportSend):
		return "Could not post it, try again."
	default:
		return "Something went wrong, try again."
	}
}
