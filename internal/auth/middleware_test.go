package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"
	"github.com/m3rciful/dispatchbot/internal/domain"
	"github.com/m3rciful/dispatchbot/internal/session"

	tele "gopkg.in/telebot.v4"
)

type fakeSource struct {
	st    *State
	err   error
	calls int
}

func (f *fakeSource) Resolve(context.Context, Identity) (*State, error) {
	f.calls++
	return f.st, f.err
}

func TestResolveRefreshesSnapshot(t *testing.T) {
	src := &fakeSource{st: &State{
		User:        User{ID: 1, TelegramID: 10, Role: domain.RoleCourier, PhoneVerified: true},
		Executor:    Executor{VerifiedRoles: map[domain.ExecutorRole]bool{domain.ExecutorCourier: true}, HasActiveSubscription: true},
		IsModerator: false,
	}}
	r := NewResolver(src)
	doc := session.New()

	st := r.Resolve(context.Background(), Identity{TelegramID: 10}, doc, false)
	if st.Stale || !doc.IsAuthenticated {
		t.Fatalf("fresh resolve marked stale: %+v", st)
	}
	if doc.AuthSnapshot == nil || doc.AuthSnapshot.Role != domain.RoleCourier || !doc.AuthSnapshot.VerifiedRoles[domain.ExecutorCourier] {
		t.Fatalf("snapshot not refreshed: %+v", doc.AuthSnapshot)
	}
}

func TestOutageKeepsSessionRoleAndMarksUnauthenticated(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := NewResolver(src)

	doc := session.New()
	doc.IsAuthenticated = true
	doc.Executor.SetRole(domain.ExecutorDriver)
	doc.AuthSnapshot = &session.AuthSnapshot{
		Role:          domain.RoleCourier,
		VerifiedRoles: map[domain.ExecutorRole]bool{domain.ExecutorCourier: true},
		CapturedAt:    time.Now(),
	}

	st := r.Resolve(context.Background(), Identity{TelegramID: 10}, doc, false)
	if !st.Stale {
		t.Fatal("fallback state must be stale")
	}
	if st.User.Role != domain.RoleCourier {
		t.Fatalf("snapshot role not used: %q", st.User.Role)
	}
	if role, _ := doc.Executor.CurrentRole(); role != domain.ExecutorDriver {
		t.Fatalf("session executor role overwritten with %q", role)
	}
	if doc.IsAuthenticated {
		t.Fatal("isAuthenticated must be false after fallback")
	}
}

func TestDegradedSessionSkipsSource(t *testing.T) {
	src := &fakeSource{st: &State{}}
	r := NewResolver(src)
	doc := session.New()

	st := r.Resolve(context.Background(), Identity{TelegramID: 3}, doc, true)
	if src.calls != 0 {
		t.Fatal("source queried while session is degraded")
	}
	if !st.Stale || st.User.Role != domain.RoleClient {
		t.Fatalf("unexpected degraded state: %+v", st)
	}
}

func TestResolveRowNormalizesRole(t *testing.T) {
	st := resolveRow{ID: 1, TelegramID: 2, Role: "guest", DriverVerified: true}.state()
	if st.User.Role != domain.RoleClient {
		t.Fatalf("role = %q", st.User.Role)
	}
	if !st.Executor.Verified(domain.ExecutorDriver) || st.Executor.Verified(domain.ExecutorCourier) {
		t.Fatal("verified roles mismatch")
	}
	if !st.Executor.IsVerified() {
		t.Fatal("IsVerified should be true")
	}
}

func TestMiddlewareTagsStaleAuthorization(t *testing.T) {
	r := NewResolver(&fakeSource{err: errors.New("connection refused")})
	c := tele.NewContext(nil, tele.Update{ID: 9, Message: &tele.Message{
		ID: 1, Sender: &tele.User{ID: 10}, Chat: &tele.Chat{ID: 10}, Text: "hi",
	}})

	var fields logger.UpdateFields
	err := r.Middleware()(func(c tele.Context) error {
		fields = logger.FieldsFrom(tghelpers.BuildContext(c))
		return nil
	})(c)
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if !fields.Stale || fields.Role != string(domain.RoleClient) {
		t.Fatalf("fields = %+v", fields)
	}
	if _, ok := c.Get(stateKey).(*State); !ok {
		t.Fatal("state not attached")
	}
}
