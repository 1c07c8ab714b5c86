package businesshours

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	// SettingsKey identifies the business hours record in the remote store.
	SettingsKey = "business_hours"
	// FallbackKey identifies the locally mirrored copy.
	FallbackKey = "business_hours_fallback"
)

// SettingsStore is the remote key-value store holding shared settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Upsert(ctx context.Context, key string, value json.RawMessage, updatedAt time.Time) error
}

// FallbackStore keeps a copy of the last known settings for outages.
type FallbackStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// PostgresSettingsStore persists settings in the app_settings table.
type PostgresSettingsStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSettingsStore constructs the store.
func NewPostgresSettingsStore(pool *pgxpool.Pool) *PostgresSettingsStore {
	return &PostgresSettingsStore{pool: pool}
}

// Get loads the JSON value stored under key.
func (s *PostgresSettingsStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("businesshours: settings store not initialised")
	}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key=$1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("businesshours: load %s: %w", key, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrSettingNotFound
	}
	return raw, nil
}

// Upsert replaces the value stored under key.
func (s *PostgresSettingsStore) Upsert(ctx context.Context, key string, value json.RawMessage, updatedAt time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("businesshours: settings store not initialised")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO app_settings (key, value, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`, key, []byte(value), updatedAt)
	if err != nil {
		return fmt.Errorf("businesshours: upsert %s: %w", key, err)
	}
	return nil
}

// RedisFallbackStore mirrors settings into Redis without expiry.
type RedisFallbackStore struct {
	client *redis.Client
}

// NewRedisFallbackStore constructs the fallback store.
func NewRedisFallbackStore(client *redis.Client) *RedisFallbackStore {
	return &RedisFallbackStore{client: client}
}

// Get returns the mirrored value or ErrSettingNotFound.
func (s *RedisFallbackStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if s == nil || s.client == nil {
		return nil, ErrSettingNotFound
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Set stores value under key.
func (s *RedisFallbackStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Set(ctx, key, []byte(value), 0).Err()
}
