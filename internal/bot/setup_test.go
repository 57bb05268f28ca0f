package bot

import (
	"testing"

	"github.com/m3rciful/dispatchbot/core/telegram/state"
	"github.com/m3rciful/dispatchbot/internal/config"
)

func TestSessionCacheWithoutRedis(t *testing.T) {
	a := &App{cfg: &config.Config{}}
	if c := a.sessionCache(); c != nil {
		t.Fatalf("expected no fallback cache without redis, got %T", c)
	}

	a.cfg.Bot.Session.LocalCache = true
	if _, ok := a.sessionCache().(*state.MemoryCache); !ok {
		t.Fatal("local cache not enabled")
	}
}

func TestSessionManagerIsBoundedByPool(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.MaxConnections = 4
	if err := config.NormalizeSettings(&cfg.Bot); err != nil {
		t.Fatalf("settings: %v", err)
	}
	if got := cfg.Database.SessionSlots(); got != 2 {
		t.Fatalf("session slots = %d", got)
	}
	a := &App{cfg: cfg}
	mgr, store, err := a.sessionManager()
	if err != nil || mgr == nil || store == nil {
		t.Fatalf("sessionManager: %v", err)
	}
}
