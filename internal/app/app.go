package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/reconcile"
	"github.com/maaaruch/gather-bot/internal/session"
	"github.com/maaaruch/gather-bot/internal/snapshot"
	"github.com/maaaruch/gather-bot/internal/transport"
)

// BotAPI is the subset of *tgbotapi.BotAPI the bot uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// Participants maps a Telegram account to its stable participant id.
type Participants interface {
	ParticipantID(ctx context.Context, account string) domain.ParticipantID
}

type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.http = c }
}

type App struct {
	bot      BotAPI
	engine   *reconcile.Engine
	people   Participants
	sessions *session.Manager
	log      *slog.Logger
	http     *http.Client
}

func New(bot BotAPI, engine *reconcile.Engine, people Participants, opts ...Option) *App {
	a := &App{
		bot:      bot,
		engine:   engine,
		people:   people,
		sessions: session.NewManager(),
		log:      slog.Default(),
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *App) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return

		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				a.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				a.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}
}

func (a *App) participant(ctx context.Context, u *tgbotapi.User) domain.ParticipantID {
	return a.people.ParticipantID(ctx, strconv.FormatInt(u.ID, 10))
}

func (a *App) reply(chatID int64, text string) {
	if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		a.log.Warn("send reply", "chat", chatID, "error", err)
	}
}

// ---------- Updates ----------

func (a *App) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	// Photo captions carry commands as plain text.
	if len(msg.Photo) > 0 && captionCommand(msg.Caption) == "event" {
		a.handleEvent(ctx, msg, captionArgs(msg.Caption), msg.Photo)
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			a.reply(msg.Chat.ID, helpText)
		case "poll":
			a.handlePoll(ctx, msg, false)
		case "multipoll":
			a.handlePoll(ctx, msg, true)
		case "event":
			a.handleEvent(ctx, msg, msg.CommandArguments(), nil)
		default:
			a.reply(msg.Chat.ID, "Unknown command. Try /help")
		}
		return
	}

	if in, ok := transport.InboundFromMessage(msg); ok {
		a.handleShared(ctx, msg, in)
	}
}

// handleShared reposts a snapshot someone pasted or forwarded so the chat
// gets a card with buttons.
func (a *App) handleShared(ctx context.Context, msg *tgbotapi.Message, in transport.Inbound) {
	r, err := a.engine.Receive(ctx, in, a.participant(ctx, msg.From))
	if err != nil {
		a.reply(msg.Chat.ID, "That link does not contain a poll or event I can read.")
		return
	}
	defer r.Dismiss()

	snap := r.Snapshot()
	if _, err := a.engine.Publish(ctx, snap.Aggregate(), msg.Chat.ID, nil); err != nil {
		a.log.Warn("repost snapshot", "kind", snap.Kind, "fingerprint", snap.Fingerprint, "error", err)
		a.reply(msg.Chat.ID, "Could not post it, try again.")
		return
	}
	if r.ReadOnly() {
		a.reply(msg.Chat.ID, "You already voted.\n\n"+Results(snap.Poll))
	}
}

func (a *App) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	if cq.Message == nil {
		a.answer(cq, "This message is too old.", false)
		return
	}

	in, ok := transport.InboundFromMessage(cq.Message)
	if !ok {
		a.answer(cq, "Nothing to vote on here.", false)
		return
	}
	// The message belongs to the bot; the actor is whoever tapped.
	in.From = strconv.FormatInt(cq.From.ID, 10)

	r, err := a.engine.Receive(ctx, in, a.participant(ctx, cq.From))
	if err != nil {
		a.answer(cq, "This card is damaged and cannot be updated.", true)
		return
	}

	action, arg := parseCallback(cq.Data)
	key := session.Key{UserID: cq.From.ID, ChatID: in.Ref.ChatID, MessageID: in.Ref.MessageID}

	switch action {
	case actionVote:
		i, err := strconv.Atoi(arg)
		if err != nil {
			a.answer(cq, "", false)
			return
		}
		a.vote(ctx, cq, in.Ref, r, []int{i}, nil)

	case actionToggle:
		i, err := strconv.Atoi(arg)
		if err != nil {
			a.answer(cq, "", false)
			return
		}
		if r.ReadOnly() {
			a.answer(cq, "You already voted.\n\n"+Results(r.Snapshot().Poll), true)
			return
		}
		a.answer(cq, selectionText(r.Snapshot().Poll, a.sessions.Toggle(key, i)), false)

	case actionSubmit:
		if r.ReadOnly() {
			a.sessions.Take(key)
			a.answer(cq, "You already voted.\n\n"+Results(r.Snapshot().Poll), true)
			return
		}
		selected := a.sessions.Take(key)
		if len(selected) == 0 {
			a.answer(cq, "Pick at least one option first.", false)
			return
		}
		a.vote(ctx, cq, in.Ref, r, selected, func() { a.sessions.Restore(key, selected) })

	case actionResults:
		if !r.ReadOnly() {
			a.answer(cq, "Vote first to see the results.", false)
			return
		}
		a.answer(cq, Results(r.Snapshot().Poll), true)

	case actionReact:
		out, err := r.React(ctx, arg)
		switch {
		case err != nil:
			a.log.Warn("react", "error", err)
			a.answer(cq, sendFailureText(err), false)
		case !out.Applied:
			a.answer(cq, "Already reacted with "+arg, false)
		default:
			a.answer(cq, "Reaction saved "+arg, false)
		}

	default:
		a.answer(cq, "", false)
	}
}

// vote publishes the participant's choices. When the card could not be edited
// and went out as a new message, ticks left on the old one are dropped.
func (a *App) vote(ctx context.Context, cq *tgbotapi.CallbackQuery, ref transport.Ref, r *reconcile.Reconciliation, indices []int, onFailure func()) {
	out, err := r.Vote(ctx, indices...)
	switch {
	case err != nil:
		a.log.Warn("vote", "state", r.State(), "error", err)
		if onFailure != nil {
			onFailure()
		}
		a.answer(cq, sendFailureText(err), false)
	case !out.Applied && r.ReadOnly():
		a.answer(cq, "You already voted.\n\n"+Results(r.Snapshot().Poll), true)
	case !out.Applied:
		a.answer(cq, "That option is not available.", false)
	default:
		if !out.Receipt.Replaced {
			a.sessions.Forget(ref.ChatID, ref.MessageID)
		}
		a.answer(cq, "Vote counted ✅", false)
	}
}

// maxCallbackText is Telegram's limit for callback answers.
const maxCallbackText = 200

func (a *App) answer(cq *tgbotapi.CallbackQuery, text string, alert bool) {
	if r := []rune(text); len(r) > maxCallbackText {
		text = string(r[:maxCallbackText-1]) + "…"
	}
	cb := tgbotapi.NewCallback(cq.ID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(cq.ID, text)
	}
	if _, err := a.bot.Request(cb); err != nil {
		a.log.Debug("answer callback", "error", err)
	}
}

func sendFailureText(err error) string {
	if errors.Is(err, transport.ErrPayloadTooLarge) {
		return "This card is full and cannot take more votes."
	}
	if errors.Is(err, snapshot.ErrUnrecognizedShape) || errors.Is(err, snapshot.ErrMalformedPayload) {
		return "This card is damaged and cannot be updated."
	}
	return "Could not update the card, try again."
}

func splitPipeArgs(s string, n int) []string {
	raw := strings.SplitN(s, "|", n)
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func captionCommand(caption string) string {
	caption = strings.TrimSpace(caption)
	if !strings.HasPrefix(caption, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(caption[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}

func captionArgs(caption string) string {
	_, args, _ := strings.Cut(strings.TrimSpace(caption), " ")
	return strings.TrimSpace(args)
}
