package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/reconcile"
	"github.com/maaaruch/gather-bot/internal/snapshot"
	"github.com/maaaruch/gather-bot/internal/transport"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
	updates  chan tgbotapi.Update
	stopped  bool
	fileURL  string
	editErr  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := c.(tgbotapi.EditMessageTextConfig); ok && b.editErr != nil {
		return tgbotapi.Message{}, b.editErr
	}
	b.sent = append(b.sent, c)
	b.nextID++
	return tgbotapi.Message{MessageID: b.nextID}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return b.updates
}

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func (b *fakeBot) GetFileDirectURL(string) (string, error) {
	return b.fileURL, nil
}

// card returns the text of the last message or edit the bot produced.
func (b *fakeBot) card(t *testing.T) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		switch c := b.sent[i].(type) {
		case tgbotapi.MessageConfig:
			return c.Text
		case tgbotapi.EditMessageTextConfig:
			return c.Text
		}
	}
	t.Fatalf("no card sent")
	return ""
}

func (b *fakeBot) lastAnswer(t *testing.T) tgbotapi.CallbackConfig {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		t.Fatalf("no callback answered")
	}
	cb, ok := b.requests[len(b.requests)-1].(tgbotapi.CallbackConfig)
	if !ok {
		t.Fatalf("last request is %T", b.requests[len(b.requests)-1])
	}
	return cb
}

type fakePeople struct{}

func (fakePeople) ParticipantID(_ context.Context, account string) domain.ParticipantID {
	return domain.ParticipantID("p-" + account)
}

type testEnv struct {
	bot   *fakeBot
	app   *App
	codec *snapshot.Codec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	codec, err := snapshot.NewCodec()
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	bot := &fakeBot{updates: make(chan tgbotapi.Update)}
	engine := reconcile.New(codec, transport.NewTelegram(bot), reconcile.WithRenderer(Render))
	return &testEnv{bot: bot, app: New(bot, engine, fakePeople{}), codec: codec}
}

func (e *testEnv) decodeCard(t *testing.T) snapshot.Snapshot {
	t.Helper()
	payload, ok := transport.PayloadFromText(e.bot.card(t))
	if !ok {
		t.Fatalf("card has no locator: %q", e.bot.card(t))
	}
	snap, err := e.codec.Decode(payload)
	if err != nil {
		t.Fatalf("decode card: %v", err)
	}
	return snap
}

const chatID = 7

func command(userID int64, text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

// tap simulates a button press on the current card.
func (e *testEnv) tap(t *testing.T, userID int64, data string) tgbotapi.CallbackConfig {
	t.Helper()
	e.app.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: userID},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 1,
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      e.bot.card(t),
		},
	})
	return e.bot.lastAnswer(t)
}

func votes(p domain.Poll) []int {
	out := make([]int, len(p.Options))
	for i, o := range p.Options {
		out[i] = o.Votes
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPollVoteFlow(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	ctx := context.Background()

	e.app.handleMessage(ctx, command(1, "/poll Lunch? | Pizza | Sushi"))

	if !strings.HasPrefix(e.bot.card(t), "Poll: Lunch?") {
		t.Fatalf("unexpected card: %q", e.bot.card(t))
	}
	snap := e.decodeCard(t)
	if snap.Kind != domain.KindPoll || len(snap.Poll.Options) != 2 {
		t.Fatalf("bad poll: %+v", snap)
	}

	if cb := e.tap(t, 2, "results"); !strings.Contains(cb.Text, "Vote first") {
		t.Fatalf("results before voting: %q", cb.Text)
	}

	if cb := e.tap(t, 2, "vote:0"); cb.Text != "Vote counted ✅" {
		t.Fatalf("vote answer: %q", cb.Text)
	}
	if _, ok := e.bot.sent[len(e.bot.sent)-1].(tgbotapi.EditMessageTextConfig); !ok {
		t.Fatalf("vote must edit the card in place, got %T", e.bot.sent[len(e.bot.sent)-1])
	}
	if got := votes(e.decodeCard(t).Poll); !equalInts(got, []int{1, 0}) {
		t.Fatalf("votes after first vote: %v", got)
	}

	// Same person again: absorbed, shown results.
	sent := len(e.bot.sent)
	cb := e.tap(t, 2, "vote:1")
	if !cb.ShowAlert || !strings.Contains(cb.Text, "already voted") {
		t.Fatalf("duplicate vote answer: %+v", cb)
	}
	if len(e.bot.sent) != sent {
		t.Fatalf("duplicate vote published a card")
	}

	e.tap(t, 3, "vote:1")
	if got := votes(e.decodeCard(t).Poll); !equalInts(got, []int{1, 1}) {
		t.Fatalf("votes after second voter: %v", got)
	}
	if cb := e.tap(t, 3, "results"); !strings.Contains(cb.Text, "Sushi: 1 (50%)") {
		t.Fatalf("results: %q", cb.Text)
	}
}

func TestMultiSelectFlow(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.app.handleMessage(context.Background(), command(1, "/multipoll Toppings | Cheese | Ham | Olives"))

	if cb := e.tap(t, 2, "submit"); !strings.Contains(cb.Text, "Pick at least one") {
		t.Fatalf("empty submit: %q", cb.Text)
	}

	e.tap(t, 2, "toggle:0")
	if cb := e.tap(t, 2, "toggle:2"); cb.Text != "Selected: Cheese, Olives. Tap Submit when ready." {
		t.Fatalf("toggle answer: %q", cb.Text)
	}
	// Another person's ticks stay separate.
	e.tap(t, 3, "toggle:1")

	if cb := e.tap(t, 2, "submit"); cb.Text != "Vote counted ✅" {
		t.Fatalf("submit: %q", cb.Text)
	}
	snap := e.decodeCard(t)
	if got := votes(snap.Poll); !equalInts(got, []int{1, 0, 1}) {
		t.Fatalf("votes: %v", got)
	}
	if len(snap.Poll.VotedUserIDs) != 1 || snap.Poll.VotedUserIDs[0] != "p-2" {
		t.Fatalf("voters: %v", snap.Poll.VotedUserIDs)
	}

	e.tap(t, 3, "submit")
	if got := votes(e.decodeCard(t).Poll); !equalInts(got, []int{1, 1, 1}) {
		t.Fatalf("votes after second voter: %v", got)
	}

	if cb := e.tap(t, 2, "toggle:1"); !cb.ShowAlert {
		t.Fatalf("toggle after voting should show results: %+v", cb)
	}
}

func TestTicksDroppedWhenCardMoves(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.app.handleMessage(context.Background(), command(1, "/multipoll Toppings | Cheese | Ham | Olives"))

	e.tap(t, 3, "toggle:1")
	e.tap(t, 2, "toggle:0")

	e.bot.mu.Lock()
	e.bot.editErr = errors.New("Bad Request: message can't be edited")
	e.bot.mu.Unlock()

	if cb := e.tap(t, 2, "submit"); cb.Text != "Vote counted ✅" {
		t.Fatalf("submit: %q", cb.Text)
	}
	if _, ok := e.bot.sent[len(e.bot.sent)-1].(tgbotapi.MessageConfig); !ok {
		t.Fatalf("card should move to a new message, got %T", e.bot.sent[len(e.bot.sent)-1])
	}

	// Ticks on the old message are gone.
	if cb := e.tap(t, 3, "submit"); !strings.Contains(cb.Text, "Pick at least one") {
		t.Fatalf("stale ticks survived: %q", cb.Text)
	}
}

func TestEventReactions(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.app.handleMessage(context.Background(), command(1, "/event Board games | Cafe Luna | Friday 19:00 | Bring snacks"))

	card := e.bot.card(t)
	for _, want := range []string{"📅 Board games", "📍 Cafe Luna", "🕒 Friday 19:00", "Bring snacks"} {
		if !strings.Contains(card, want) {
			t.Fatalf("card %q misses %q", card, want)
		}
	}

	e.tap(t, 2, "react:🎉")
	e.tap(t, 3, "react:🎉")
	if cb := e.tap(t, 3, "react:🎉"); !strings.Contains(cb.Text, "Already reacted") {
		t.Fatalf("repeat reaction: %q", cb.Text)
	}
	e.tap(t, 4, "react:🙌")

	if card := e.bot.card(t); !strings.Contains(card, "Reactions: 🎉 2 · 🙌 1") {
		t.Fatalf("reaction summary missing: %q", card)
	}
	if r := e.decodeCard(t).Event.Reactions; r["p-2"] != "🎉" || r["p-4"] != "🙌" {
		t.Fatalf("reactions: %v", r)
	}
}

func TestEventWithPhoto(t *testing.T) {
	t.Parallel()

	img := []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(img)
	}))
	t.Cleanup(srv.Close)

	e := newTestEnv(t)
	e.bot.fileURL = srv.URL

	e.app.handleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 1},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Caption:   "/event Picnic | Park | Sunday",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", FileSize: len(img)},
			{FileID: "big", FileSize: 90000},
		},
	})

	if len(e.bot.sent) != 2 {
		t.Fatalf("want preview and card, got %d sends", len(e.bot.sent))
	}
	if _, ok := e.bot.sent[0].(tgbotapi.PhotoConfig); !ok {
		t.Fatalf("first send is %T, want photo preview", e.bot.sent[0])
	}
	if got := e.decodeCard(t).Event.ImageData; string(got) != string(img) {
		t.Fatalf("image not embedded: %v", got)
	}
}

func TestUsageAndUnknown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"poll_needs_option", "/poll Lunch?", "Format: /poll"},
		{"event_needs_fields", "/event Party | Roof", "Format: /event"},
		{"unknown", "/nominations", "Unknown command"},
		{"help", "/help", "/multipoll"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEnv(t)
			e.app.handleMessage(context.Background(), command(1, tt.text))
			if got := e.bot.card(t); !strings.Contains(got, tt.want) {
				t.Fatalf("got %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestSharedLocatorIsReposted(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	poll, err := domain.NewPoll("Movie?", []string{"A", "B"}, false)
	if err != nil {
		t.Fatal(err)
	}
	voted, _ := poll.ApplyVote("p-5", 1)
	payload, err := e.codec.Encode(voted)
	if err != nil {
		t.Fatal(err)
	}

	e.app.handleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 3,
		From:      &tgbotapi.User{ID: 5},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      "look at this " + payload,
	})

	if len(e.bot.sent) != 2 {
		t.Fatalf("want card and results, got %d sends", len(e.bot.sent))
	}
	card := e.bot.sent[0].(tgbotapi.MessageConfig).Text
	if !strings.HasPrefix(card, "Poll: Movie?") {
		t.Fatalf("card: %q", card)
	}
	if got := e.bot.card(t); !strings.Contains(got, "You already voted") {
		t.Fatalf("results reply: %q", got)
	}

	e.app.handleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 4,
		From:      &tgbotapi.User{ID: 5},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      "https://gather.poll?data=bm9wZQ",
	})
	if got := e.bot.card(t); !strings.Contains(got, "cannot read") && !strings.Contains(got, "I can read") {
		t.Fatalf("broken locator reply: %q", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.app.Run(ctx)
		close(done)
	}()

	e.bot.updates <- tgbotapi.Update{Message: command(1, "/help")}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	e.bot.mu.Lock()
	defer e.bot.mu.Unlock()
	if !e.bot.stopped {
		t.Fatal("updates were not stopped")
	}
	if len(e.bot.sent) != 1 {
		t.Fatalf("update not handled, sends=%d", len(e.bot.sent))
	}
}
