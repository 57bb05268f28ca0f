package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m3rciful/dispatchbot/internal/domain"
)

func TestNormalizeSettingsDefaults(t *testing.T) {
	var s Settings
	if err := NormalizeSettings(&s); err != nil {
		t.Fatalf("NormalizeSettings: %v", err)
	}
	if s.Verification.RequiredPhotos != 2 {
		t.Fatalf("required photos = %d", s.Verification.RequiredPhotos)
	}
	if s.Idempotency.Backend != "postgres" || s.Idempotency.TTL() <= 0 {
		t.Fatalf("idempotency defaults: %+v", s.Idempotency)
	}
	if s.Subscription.InviteLinkTTL() <= 0 || s.Session.Retention() <= 0 {
		t.Fatal("durations not defaulted")
	}
	if s.Session.LockTimeout() != 5*time.Second || s.Session.LocalCache {
		t.Fatalf("session defaults: %+v", s.Session)
	}
}

func TestNormalizeSettingsRejectsBadPeriods(t *testing.T) {
	s := Settings{Subscription: SubscriptionSettings{Periods: []Period{{ID: "m", Days: 30}, {ID: "m", Days: 90}}}}
	if err := NormalizeSettings(&s); err == nil {
		t.Fatal("expected duplicate period error")
	}
	s = Settings{Subscription: SubscriptionSettings{Periods: []Period{{ID: "w", Days: 0}}}}
	if err := NormalizeSettings(&s); err == nil {
		t.Fatal("expected non-positive days error")
	}
}

func TestNormalizeSettingsRejectsUnknownChannel(t *testing.T) {
	s := Settings{Channels: map[string]int64{"payouts": -100}}
	if err := NormalizeSettings(&s); err == nil {
		t.Fatal("expected unknown channel type error")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
telegram:
  token: "123:abc"
database:
  host: localhost
  port: "5432"
  name: dispatch
bot:
  moderators: [42, 7]
  channels:
    verify: -1001
    couriers: -1002
  cities:
    - code: msk
      title: Moscow
  subscription:
    periods:
      - id: month
        days: 30
        price: 1500
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CoreConfig().Telegram.Token != "123:abc" {
		t.Fatal("core config not inlined")
	}
	if !cfg.Bot.IsModerator(42) || cfg.Bot.IsModerator(1) {
		t.Fatal("moderator lookup failed")
	}
	if got := cfg.Bot.ChannelBindings()[domain.ChannelVerify]; got != -1001 {
		t.Fatalf("verify binding = %d", got)
	}
	if p, ok := cfg.Bot.Subscription.Period("month"); !ok || p.Title != "30 days" {
		t.Fatalf("period: %+v %v", p, ok)
	}
	if c, ok := cfg.Bot.City("msk"); !ok || c.Title != "Moscow" {
		t.Fatalf("city: %+v %v", c, ok)
	}
}
