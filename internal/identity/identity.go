package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/maaaruch/gather-bot/internal/domain"
	"github.com/maaaruch/gather-bot/internal/storage"
)

// DefaultKey is the single entry a standalone device persists.
const DefaultKey = "gatherUserID"

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	PutIfAbsent(ctx context.Context, key, value string) (string, error)
}

type Option func(*Provider)

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// WithGenerator replaces uuid.NewString, mostly for tests.
func WithGenerator(gen func() string) Option {
	return func(p *Provider) { p.gen = gen }
}

// Provider hands out the stable participant id stored under one key. The
// first call reads or creates it; every later call is served from memory.
type Provider struct {
	store Store
	key   string
	log   *slog.Logger
	gen   func() string

	mu sync.Mutex
	id domain.ParticipantID
}

func New(store Store, key string, opts ...Option) *Provider {
	p := &Provider{
		store: store,
		key:   key,
		log:   slog.Default(),
		gen:   uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ParticipantID never fails. If the store is unreachable the generated id is
// kept for the rest of the process and persistence is retried by the next
// process.
func (p *Provider) ParticipantID(ctx context.Context) domain.ParticipantID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}

	id, err := p.load(ctx)
	if err != nil {
		p.log.Warn("participant id not persisted", "key", p.key, "error", err)
	}
	p.id = id
	return id
}

func (p *Provider) load(ctx context.Context) (domain.ParticipantID, error) {
	v, err := p.store.Get(ctx, p.key)
	if err == nil && v != "" {
		return domain.ParticipantID(v), nil
	}

	fresh := p.gen()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return domain.ParticipantID(fresh), fmt.Errorf("read: %w", err)
	}

	stored, err := p.store.PutIfAbsent(ctx, p.key, fresh)
	if err != nil {
		return domain.ParticipantID(fresh), fmt.Errorf("write: %w", err)
	}
	if stored != fresh {
		p.log.Debug("participant id created concurrently, adopting stored value", "key", p.key)
	}
	p.log.Info("participant id ready", "key", p.key)
	return domain.ParticipantID(stored), nil
}

// Registry serves one Provider per host account, for hosts such as a chat
// bot that act for many people from one process. Account ids are salted and
// hashed before they reach the store.
//
// Providers are cached for the life of the process with no eviction, so
// memory grows with the number of distinct accounts seen. That suits a bot
// serving a few groups; a host facing unbounded accounts should use its own
// cache in front of New.
type Registry struct {
	store Store
	salt  string
	opts  []Option

	mu        sync.Mutex
	providers map[string]*Provider
}

func NewRegistry(store Store, salt string, opts ...Option) *Registry {
	return &Registry{
		store:     store,
		salt:      salt,
		opts:      opts,
		providers: make(map[string]*Provider),
	}
}

func (r *Registry) For(account string) *Provider {
	key := r.keyFor(account)

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.providers[key]
	if p == nil {
		p = New(r.store, key, r.opts...)
		r.providers[key] = p
	}
	return p
}

func (r *Registry) ParticipantID(ctx context.Context, account string) domain.ParticipantID {
	return r.For(account).ParticipantID(ctx)
}

func (r *Registry) keyFor(account string) string {
	sum := sha256.Sum256([]byte(r.salt + ":" + account))
	return "participant:" + hex.EncodeToString(sum[:])
}
