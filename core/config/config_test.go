package config

import "testing"

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: "polling"}}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Fatalf("run mode = %q, want %q", cfg.Telegram.RunMode, RunModeLongpoll)
	}
	if cfg.Sender.MaxAttempts != 4 || cfg.Sender.Workers != 4 {
		t.Fatalf("sender defaults not applied: %+v", cfg.Sender)
	}
	if cfg.Sender.MaxBackoffMS < cfg.Sender.BaseBackoffMS {
		t.Fatalf("max backoff %d below base %d", cfg.Sender.MaxBackoffMS, cfg.Sender.BaseBackoffMS)
	}
}

func TestNormalizeRejectsWebhookWithoutURL(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", RunMode: "webhook"}}
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for webhook mode without url")
	}
}

func TestNormalizeRejectsUnknownExclusion(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{Token: "t"},
		RateLimit: RateLimitConfig{ExcludeUpdates: []string{" Callback ", "poll"}},
	}
	if err := Normalize(cfg); err == nil {
		t.Fatal("expected error for unsupported exclusion")
	}
}

func TestNormalizeRequiresToken(t *testing.T) {
	if err := Normalize(&Config{}); err == nil {
		t.Fatal("expected error without token")
	}
}
