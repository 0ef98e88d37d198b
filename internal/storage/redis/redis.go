// Package redis provides a Redis-backed storage backend. Records are stored
// as JSON values under sessionmeter:* keys with set/list indexes for
// enumeration.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/sessionmeter/internal/config"
	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyDevices  = "sessionmeter:devices"
	keySessions = "sessionmeter:sessions"
)

func deviceKey(id string) string { return fmt.Sprintf("sessionmeter:device:%s", id) }

func sessionKey(id string) string { return fmt.Sprintf("sessionmeter:session:%s", id) }

func segmentKey(id string) string { return fmt.Sprintf("sessionmeter:segment:%s", id) }

func sessionSegmentsKey(id string) string {
	return fmt.Sprintf("sessionmeter:session:%s:segments", id)
}

func deviceSegmentsKey(id string) string {
	return fmt.Sprintf("sessionmeter:device:%s:segments", id)
}

// Store implements the storage.Store interface using Redis.
type Store struct {
	client *redis.Client
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Devices returns the device store.
func (s *Store) Devices() storage.DeviceStore { return &deviceStore{client: s.client} }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{client: s.client} }
