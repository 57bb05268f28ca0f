package support

import (
	"context"
	"testing"

	"github.com/m3rciful/dispatchbot/core/telegram/sender/sendertest"
	"github.com/m3rciful/dispatchbot/core/telegram/ui"
	"github.com/m3rciful/dispatchbot/internal/auth"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/flow"
	"github.com/m3rciful/dispatchbot/internal/moderation"
	"github.com/m3rciful/dispatchbot/internal/session"
)

type fakeRepo struct {
	threads  []Thread
	attached int
}

func (r *fakeRepo) Open(_ context.Context, t Thread) (int64, error) {
	r.threads = append(r.threads, t)
	return int64(len(r.threads)), nil
}

func (r *fakeRepo) AttachChannelMessage(context.Context, int64, int64, int) error {
	r.attached++
	return nil
}

func TestSupportOpensThread(t *testing.T) {
	tr := sendertest.New()
	repo := &fakeRepo{}
	f := New(repo, moderation.NewQueue(moderation.StaticChannels{domain.ChannelSupport: -9}, tr), ui.NewTracker(tr, ""))
	f.newID = func() string { return "ABCD1234" }

	u := &flow.Update{Ctx: context.Background(), ChatID: 3, Doc: session.New(), Auth: &auth.State{User: auth.User{ID: 2, TelegramID: 3}}}
	if handled, _ := f.HandleText(u, "hello"); handled {
		t.Fatal("idle support must not consume text")
	}
	if err := f.Start(u); err != nil {
		t.Fatalf("start: %v", err)
	}
	handled, err := f.HandleText(u, "my order is late")
	if !handled || err != nil {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if len(repo.threads) != 1 || repo.threads[0].UserID != 2 || repo.attached != 1 {
		t.Fatalf("threads=%+v attached=%d", repo.threads, repo.attached)
	}
	if u.Doc.Support.Status != session.SupportIdle || u.Doc.Support.LastThreadShortID == nil || *u.Doc.Support.LastThreadShortID != "ABCD1234" {
		t.Fatalf("support state = %+v", u.Doc.Support)
	}
}

func TestNewShortID(t *testing.T) {
	if id := NewShortID(); len(id) != 8 {
		t.Fatalf("id = %q", id)
	}
}
