package businesshours

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long settings are served without a remote read.
const DefaultCacheTTL = 5 * time.Minute

// DefaultStoreTimeout bounds one shared refresh across both stores.
const DefaultStoreTimeout = 5 * time.Second

// GateConfig groups optional settings for the gate.
type GateConfig struct {
	CacheTTL time.Duration
	// StoreTimeout bounds a refresh, which outlives the caller that started it.
	StoreTimeout time.Duration
	// Timezone applies when stored settings carry no operating timezone.
	Timezone string
	// FailClosed reports the store as closed on internal errors instead of open.
	FailClosed bool
	Logger     *slog.Logger
	Clock      func() time.Time
	Observer   SourceObserver
}

// SourceObserver is told which layer answered a settings read.
type SourceObserver interface {
	ObserveSettingsSource(source string)
}

// Layers reported to SourceObserver.
const (
	SourceCache    = "cache"
	SourceRemote   = "remote"
	SourceFallback = "fallback"
	SourceDefault  = "default"
)

// settingsCache holds the last fetched settings of one gate instance.
type settingsCache struct {
	mu        sync.RWMutex
	value     *Settings
	fetchedAt time.Time
}

// Gate answers whether the storefront is currently accepting business.
type Gate struct {
	remote     SettingsStore
	fallback   FallbackStore
	cache      *settingsCache
	ttl        time.Duration
	timeout    time.Duration
	zone       string
	failClosed bool
	logger     *slog.Logger
	clock      func() time.Time
	observer   SourceObserver
	loads      singleflight.Group
}

// NewGate builds a gate with its own cache.
func NewGate(remote SettingsStore, fallback FallbackStore, cfg GateConfig) *Gate {
	g := &Gate{
		remote:     remote,
		fallback:   fallback,
		cache:      &settingsCache{},
		ttl:        cfg.CacheTTL,
		timeout:    cfg.StoreTimeout,
		zone:       cfg.Timezone,
		failClosed: cfg.FailClosed,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		observer:   cfg.Observer,
	}
	if g.ttl <= 0 {
		g.ttl = DefaultCacheTTL
	}
	if g.timeout <= 0 {
		g.timeout = DefaultStoreTimeout
	}
	if g.zone == "" {
		g.zone = DefaultTimezone
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g
}

// GetBusinessHours returns the active settings. It never fails: remote errors
// degrade to the local fallback copy and finally to DefaultSettings.
func (g *Gate) GetBusinessHours(ctx context.Context) Settings {
	if settings, ok := g.cached(); ok {
		g.observe(SourceCache)
		return settings
	}
	v, _, _ := g.loads.Do(SettingsKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		return g.load(loadCtx), nil
	})
	return v.(Settings).Clone()
}

func (g *Gate) load(ctx context.Context) Settings {
	settings, err := g.readRemote(ctx)
	if err == nil {
		g.remember(settings)
		g.mirror(ctx, settings)
		g.observe(SourceRemote)
		return settings
	}
	if errors.Is(err, ErrSettingNotFound) {
		g.logger.Info("business hours not stored remotely, trying fallback")
	} else {
		g.logger.Warn("business hours remote read failed", slog.Any("error", err))
	}

	if settings, err := g.readFallback(ctx); err == nil {
		g.remember(settings)
		g.observe(SourceFallback)
		return settings
	} else if !errors.Is(err, ErrSettingNotFound) {
		g.logger.Warn("business hours fallback read failed", slog.Any("error", err))
	}

	settings = g.defaults()
	g.remember(settings)
	g.observe(SourceDefault)
	return settings
}

func (g *Gate) observe(source string) {
	if g.observer != nil {
		g.observer.ObserveSettingsSource(source)
	}
}

// UpdateBusinessHours replaces the stored settings. The cache and fallback copy
// are always updated; Success is false when the remote write failed.
func (g *Gate) UpdateBusinessHours(ctx context.Context, settings Settings) UpdateResult {
	settings = g.normalise(settings.Clone())
	if err := ValidateTimezone(settings.OperatingTimezone); err != nil {
		return UpdateResult{Success: false, Message: err.Error()}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return UpdateResult{Success: false, Message: fmt.Sprintf("encode business hours: %v", err)}
	}
	remoteErr := g.writeRemote(ctx, raw)
	g.remember(settings)
	g.mirrorRaw(ctx, raw)
	if remoteErr != nil {
		g.logger.Error("business hours remote write failed", slog.Any("error", remoteErr))
		return UpdateResult{
			Success: false,
			Message: fmt.Sprintf("business hours saved locally only, remote store unavailable: %v", remoteErr),
		}
	}
	g.logger.Info("business hours updated", slog.Bool("enabled", settings.IsEnabled))
	return UpdateResult{Success: true, Message: "business hours updated"}
}

// ResetToDefault stores the built-in schedule.
func (g *Gate) ResetToDefault(ctx context.Context) UpdateResult {
	return g.UpdateBusinessHours(ctx, g.defaults())
}

func (g *Gate) defaults() Settings {
	settings := DefaultSettings()
	settings.OperatingTimezone = g.zone
	return settings
}

// IsWithinBusinessHours reports whether the store is open at asOf, or now when
// asOf is nil. A disabled gate is always open.
func (g *Gate) IsWithinBusinessHours(ctx context.Context, asOf *time.Time) (open bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("business hours evaluation panicked", slog.Any("panic", r))
			open = !g.failClosed
		}
	}()
	settings := g.GetBusinessHours(ctx)
	if !settings.IsEnabled {
		return true
	}
	open, err := isOpenAt(settings, CivilTime(g.at(asOf), g.zoneOf(settings)))
	if err != nil {
		g.logger.Error("business hours evaluation failed", slog.Any("error", err))
		return !g.failClosed
	}
	return open
}

// CurrentStatus reports open state and, when closed, when the store reopens.
func (g *Gate) CurrentStatus(ctx context.Context, asOf *time.Time) (status Status) {
	var settings Settings
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("business hours status panicked", slog.Any("panic", r))
			status = g.failureStatus(settings)
		}
	}()
	settings = g.GetBusinessHours(ctx)
	if !settings.IsEnabled {
		return Status{IsOpen: true}
	}
	now := CivilTime(g.at(asOf), g.zoneOf(settings))
	open, err := isOpenAt(settings, now)
	if err != nil {
		g.logger.Error("business hours evaluation failed", slog.Any("error", err))
		return g.failureStatus(settings)
	}
	if open {
		return Status{IsOpen: true}
	}
	message, err := closedMessage(settings, now)
	if err != nil {
		g.logger.Error("business hours message failed", slog.Any("error", err))
		return g.failureStatus(settings)
	}
	return Status{IsOpen: false, Message: message}
}

// Invalidate drops the cached settings so the next read hits the stores.
func (g *Gate) Invalidate() {
	g.cache.mu.Lock()
	g.cache.value = nil
	g.cache.fetchedAt = time.Time{}
	g.cache.mu.Unlock()
}

func (g *Gate) failureStatus(settings Settings) Status {
	if !g.failClosed {
		return Status{IsOpen: true}
	}
	message := settings.OffWorkMessage
	if message == "" {
		message = DefaultOffWorkMessage
	}
	return Status{IsOpen: false, Message: message}
}

func (g *Gate) cached() (Settings, bool) {
	g.cache.mu.RLock()
	defer g.cache.mu.RUnlock()
	if g.cache.value == nil || g.clock().Sub(g.cache.fetchedAt) >= g.ttl {
		return Settings{}, false
	}
	return g.cache.value.Clone(), true
}

func (g *Gate) remember(settings Settings) {
	value := settings.Clone()
	g.cache.mu.Lock()
	g.cache.value = &value
	g.cache.fetchedAt = g.clock()
	g.cache.mu.Unlock()
}

func (g *Gate) readRemote(ctx context.Context) (settings Settings, err error) {
	if g.remote == nil {
		return Settings{}, errors.New("businesshours: remote store not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			settings, err = Settings{}, fmt.Errorf("businesshours: remote get panicked: %v", r)
		}
	}()
	raw, err := g.remote.Get(ctx, SettingsKey)
	if err != nil {
		return Settings{}, err
	}
	return g.decode(raw)
}

func (g *Gate) readFallback(ctx context.Context) (settings Settings, err error) {
	if g.fallback == nil {
		return Settings{}, ErrSettingNotFound
	}
	defer func() {
		if r := recover(); r != nil {
			settings, err = Settings{}, fmt.Errorf("businesshours: fallback get panicked: %v", r)
		}
	}()
	raw, err := g.fallback.Get(ctx, FallbackKey)
	if err != nil {
		return Settings{}, err
	}
	return g.decode(raw)
}

func (g *Gate) writeRemote(ctx context.Context, raw json.RawMessage) (err error) {
	if g.remote == nil {
		return errors.New("businesshours: remote store not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("businesshours: remote upsert panicked: %v", r)
		}
	}()
	return g.remote.Upsert(ctx, SettingsKey, raw, g.clock().UTC())
}

func (g *Gate) mirror(ctx context.Context, settings Settings) {
	raw, err := json.Marshal(settings)
	if err != nil {
		g.logger.Warn("business hours fallback encode failed", slog.Any("error", err))
		return
	}
	g.mirrorRaw(ctx, raw)
}

func (g *Gate) mirrorRaw(ctx context.Context, raw json.RawMessage) {
	if g.fallback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("business hours fallback write panicked", slog.Any("panic", r))
		}
	}()
	if err := g.fallback.Set(ctx, FallbackKey, raw); err != nil {
		g.logger.Warn("business hours fallback write failed", slog.Any("error", err))
	}
}

func (g *Gate) decode(raw json.RawMessage) (Settings, error) {
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("businesshours: decode settings: %w", err)
	}
	return g.normalise(settings), nil
}

func (g *Gate) normalise(settings Settings) Settings {
	if settings.OperatingTimezone == "" {
		settings.OperatingTimezone = g.zone
	}
	return settings
}

func (g *Gate) zoneOf(settings Settings) string {
	if settings.OperatingTimezone != "" {
		return settings.OperatingTimezone
	}
	return g.zone
}

func (g *Gate) at(asOf *time.Time) time.Time {
	if asOf != nil {
		return *asOf
	}
	return g.clock()
}
