// Package config loads the dispatch bot configuration: the shared core settings
// plus database, Redis and the typed business settings.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	coredatabase "github.com/m3rciful/dispatchbot/core/database"
	"github.com/m3rciful/dispatchbot/internal/domain"
)

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Redis    RedisConfig         `yaml:"redis"`
	Bot      Settings            `yaml:"bot"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// RedisConfig enables the Redis session cache and idempotency backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix   string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// Settings are the explicit business settings consumed by flows.
type Settings struct {
	Verification VerificationSettings `yaml:"verification"`
	Subscription SubscriptionSettings `yaml:"subscription"`
	Idempotency  IdempotencySettings  `yaml:"idempotency"`
	Session      SessionSettings      `yaml:"session"`

	Cities     []City           `yaml:"cities" ignored:"true"`
	Moderators []int64          `yaml:"moderators" envconfig:"BOT_MODERATORS"`
	Channels   map[string]int64 `yaml:"channels" envconfig:"BOT_CHANNELS"`
}

// VerificationSettings control executor document collection.
type VerificationSettings struct {
	RequiredPhotos          int `yaml:"required_photos" envconfig:"VERIFICATION_REQUIRED_PHOTOS"`
	ReminderIntervalMinutes int `yaml:"reminder_interval_minutes" envconfig:"VERIFICATION_REMINDER_INTERVAL_MINUTES"`
}

// ReminderInterval returns the minimum gap between re-prompts while collecting.
func (v VerificationSettings) ReminderInterval() time.Duration {
	return time.Duration(v.ReminderIntervalMinutes) * time.Minute
}

// SubscriptionSettings describe purchasable periods and invite links.
type SubscriptionSettings struct {
	Periods              []Period `yaml:"periods" ignored:"true"`
	GraceDays            int      `yaml:"grace_days" envconfig:"SUBSCRIPTION_GRACE_DAYS"`
	InviteLinkTTLMinutes int      `yaml:"invite_link_ttl_minutes" envconfig:"SUBSCRIPTION_INVITE_LINK_TTL_MINUTES"`
	PaymentDetails       string   `yaml:"payment_details" envconfig:"SUBSCRIPTION_PAYMENT_DETAILS"`
}

// InviteLinkTTL returns how long an issued invite link stays valid.
func (s SubscriptionSettings) InviteLinkTTL() time.Duration {
	return time.Duration(s.InviteLinkTTLMinutes) * time.Minute
}

// Period finds a period by id.
func (s SubscriptionSettings) Period(id string) (Period, bool) {
	for _, p := range s.Periods {
		if p.ID == id {
			return p, true
		}
	}
	return Period{}, false
}

// Period is one purchasable subscription length.
type Period struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Days  int    `yaml:"days"`
	Price int64  `yaml:"price"`
}

// City is one selectable service city.
type City struct {
	Code  string `yaml:"code"`
	Title string `yaml:"title"`
}

// IdempotencySettings choose the marker backend and default TTL.
type IdempotencySettings struct {
	Backend    string `yaml:"backend" envconfig:"IDEMPOTENCY_BACKEND"`
	TTLSeconds int    `yaml:"ttl_seconds" envconfig:"IDEMPOTENCY_TTL_SECONDS"`
}

// TTL returns the default marker lifetime.
func (i IdempotencySettings) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

// SessionSettings control retention of stored documents.
type SessionSettings struct {
	RetentionHours         int `yaml:"retention_hours" envconfig:"SESSION_RETENTION_HOURS"`
	JanitorIntervalMinutes int `yaml:"janitor_interval_minutes" envconfig:"SESSION_JANITOR_INTERVAL_MINUTES"`
	CacheTTLHours          int `yaml:"cache_ttl_hours" envconfig:"SESSION_CACHE_TTL_HOURS"`
	// LockTimeoutSeconds bounds the wait for an update slot and the scope lock.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds" envconfig:"SESSION_LOCK_TIMEOUT_SECONDS"`
	// LocalCache enables a process-local fallback cache when Redis is absent.
	// Only safe with a single bot instance.
	LocalCache bool `yaml:"local_cache" envconfig:"SESSION_LOCAL_CACHE"`
}

// Retention returns how long an untouched document is kept.
func (s SessionSettings) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

// JanitorInterval returns the purge period.
func (s SessionSettings) JanitorInterval() time.Duration {
	return time.Duration(s.JanitorIntervalMinutes) * time.Minute
}

// CacheTTL returns the fallback cache lifetime.
func (s SessionSettings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLHours) * time.Hour
}

// LockTimeout returns how long an update waits before running degraded.
func (s SessionSettings) LockTimeout() time.Duration {
	return time.Duration(s.LockTimeoutSeconds) * time.Second
}

// City finds a city by code.
func (s Settings) City(code string) (City, bool) {
	for _, c := range s.Cities {
		if c.Code == code {
			return c, true
		}
	}
	return City{}, false
}

// IsModerator reports whether telegramID is listed as a moderator.
func (s Settings) IsModerator(telegramID int64) bool {
	for _, id := range s.Moderators {
		if id == telegramID {
			return true
		}
	}
	return false
}

// ChannelBindings returns configured channel chat ids keyed by validated type.
func (s Settings) ChannelBindings() map[domain.ChannelType]int64 {
	out := make(map[domain.ChannelType]int64, len(s.Channels))
	for raw, chatID := range s.Channels {
		if t, ok := domain.ParseChannelType(raw); ok && chatID != 0 {
			out[t] = chatID
		}
	}
	return out
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.ReadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := NormalizeSettings(&cfg.Bot); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NormalizeSettings applies defaults and rejects inconsistent settings.
func NormalizeSettings(s *Settings) error {
	if s.Verification.RequiredPhotos <= 0 {
		s.Verification.RequiredPhotos = 2
	}
	if s.Verification.ReminderIntervalMinutes <= 0 {
		s.Verification.ReminderIntervalMinutes = 10
	}
	if s.Subscription.GraceDays < 0 {
		return fmt.Errorf("bot.subscription.grace_days must be >= 0")
	}
	if s.Subscription.InviteLinkTTLMinutes <= 0 {
		s.Subscription.InviteLinkTTLMinutes = 60
	}
	seen := make(map[string]struct{}, len(s.Subscription.Periods))
	for i, p := range s.Subscription.Periods {
		id := strings.TrimSpace(p.ID)
		if id == "" || p.Days <= 0 {
			return fmt.Errorf("bot.subscription.periods[%d]: id and positive days are required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("bot.subscription.periods: duplicate id %q", id)
		}
		seen[id] = struct{}{}
		s.Subscription.Periods[i].ID = id
		if s.Subscription.Periods[i].Title == "" {
			s.Subscription.Periods[i].Title = fmt.Sprintf("%d days", p.Days)
		}
	}

	switch strings.ToLower(strings.TrimSpace(s.Idempotency.Backend)) {
	case "", "postgres":
		s.Idempotency.Backend = "postgres"
	case "redis":
		s.Idempotency.Backend = "redis"
	case "memory":
		s.Idempotency.Backend = "memory"
	default:
		return fmt.Errorf("invalid bot.idempotency.backend %q; allowed: postgres, redis, memory", s.Idempotency.Backend)
	}
	if s.Idempotency.TTLSeconds <= 0 {
		s.Idempotency.TTLSeconds = 30
	}

	if s.Session.RetentionHours <= 0 {
		s.Session.RetentionHours = 24 * 30
	}
	if s.Session.JanitorIntervalMinutes <= 0 {
		s.Session.JanitorIntervalMinutes = 60
	}
	if s.Session.CacheTTLHours <= 0 {
		s.Session.CacheTTLHours = 24 * 7
	}
	if s.Session.LockTimeoutSeconds <= 0 {
		s.Session.LockTimeoutSeconds = 5
	}

	for raw := range s.Channels {
		if _, ok := domain.ParseChannelType(raw); !ok {
			return fmt.Errorf("invalid bot.channels key %q", raw)
		}
	}
	sort.Slice(s.Moderators, func(i, j int) bool { return s.Moderators[i] < s.Moderators[j] })
	return nil
}
