package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// MaxMessageLength is the Telegram limit for a text message, in characters.
const MaxMessageLength = 4096

// BotAPI is the part of *tgbotapi.BotAPI the adapter needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramOption func(*Telegram)

func WithRate(r rate.Limit, burst int) TelegramOption {
	return func(t *Telegram) { t.limiter = rate.NewLimiter(r, burst) }
}

func WithTelegramLogger(l *slog.Logger) TelegramOption {
	return func(t *Telegram) { t.log = l }
}

// Telegram sends snapshots as text messages with an inline keyboard. A reply
// edits the triggering message so the chat keeps one current copy.
type Telegram struct {
	bot     BotAPI
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewTelegram(bot BotAPI, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Telegram) Send(ctx context.Context, out Outbound) (Receipt, error) {
	text := Render(out)
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return Receipt{}, fmt.Errorf("%w: %d characters", ErrPayloadTooLarge, n)
	}

	if out.ReplyTo != nil {
		r, err := t.edit(ctx, out, text)
		if err == nil || !notEditable(err) {
			return r, err
		}
		t.log.Debug("message not editable, sending reply", "chat", out.ReplyTo.ChatID, "error", err)
	}

	if len(out.Image) > 0 && out.ReplyTo == nil {
		photo := tgbotapi.NewPhoto(out.ChatID, tgbotapi.FileBytes{Name: "event.jpg", Bytes: out.Image})
		if err := t.wait(ctx); err != nil {
			return Receipt{}, err
		}
		if _, err := t.bot.Send(photo); err != nil {
			// The locator still carries the image; the preview is optional.
			t.log.Warn("send image preview", "chat", out.ChatID, "error", err)
		}
	}

	msg := tgbotapi.NewMessage(out.ChatID, text)
	msg.DisableWebPagePreview = true
	if out.ReplyTo != nil {
		msg.ReplyToMessageID = out.ReplyTo.MessageID
	}
	if kb, ok := keyboard(out.Actions); ok {
		msg.ReplyMarkup = kb
	}

	if err := t.wait(ctx); err != nil {
		return Receipt{}, err
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("send message: %w", err)
	}
	return Receipt{Ref: Ref{ChatID: out.ChatID, MessageID: sent.MessageID}}, nil
}

func (t *Telegram) edit(ctx context.Context, out Outbound, text string) (Receipt, error) {
	ref := *out.ReplyTo
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.DisableWebPagePreview = true
	if kb, ok := keyboard(out.Actions); ok {
		edit.ReplyMarkup = &kb
	}

	if err := t.wait(ctx); err != nil {
		return Receipt{}, err
	}
	if _, err := t.bot.Send(edit); err != nil {
		if strings.Contains(err.Error(), "message is not modified") {
			return Receipt{Ref: ref, Replaced: true}, nil
		}
		return Receipt{}, fmt.Errorf("edit message: %w", err)
	}
	return Receipt{Ref: ref, Replaced: true}, nil
}

func (t *Telegram) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send pacing: %w", err)
	}
	return nil
}

func notEditable(err error) bool {
	s := err.Error()
	return strings.Contains(s, "message can't be edited") ||
		strings.Contains(s, "message to edit not found") ||
		strings.Contains(s, "there is no text in the message to edit")
}

func keyboard(rows [][]Action) (tgbotapi.InlineKeyboardMarkup, bool) {
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var r []tgbotapi.InlineKeyboardButton
		for _, a := range row {
			r = append(r, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
		}
		if len(r) > 0 {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(r...))
		}
	}
	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(buttons...), true
}

// InboundFromMessage extracts a snapshot delivery from a chat message, looking
// at the text first and then the media caption.
func InboundFromMessage(msg *tgbotapi.Message) (Inbound, bool) {
	if msg == nil {
		return Inbound{}, false
	}
	payload, ok := PayloadFromText(msg.Text)
	if !ok {
		payload, ok = PayloadFromText(msg.Caption)
	}
	if !ok {
		return Inbound{}, false
	}

	in := Inbound{
		Payload: payload,
		Ref:     Ref{MessageID: msg.MessageID},
	}
	if msg.Chat != nil {
		in.Ref.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		in.From = strconv.FormatInt(msg.From.ID, 10)
	}
	return in, true
}
