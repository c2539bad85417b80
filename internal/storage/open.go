package storage

import (
	"context"
	"fmt"
)

// KV is the key-value contract both backends satisfy.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	PutIfAbsent(ctx context.Context, key, value string) (string, error)
	Delete(ctx context.Context, key string) (bool, error)
	Close() error
}

type Options struct {
	Driver        string
	DSN           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// OpenKV opens and prepares the configured backend.
func OpenKV(ctx context.Context, o Options) (KV, error) {
	if o.Driver == DriverRedis {
		rs := NewRedisStore(o.RedisAddr, o.RedisPassword, o.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis %s: %w", o.RedisAddr, err)
		}
		return rs, nil
	}

	db, err := Open(o.Driver, o.DSN)
	if err != nil {
		return nil, err
	}
	s := New(db)
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}
