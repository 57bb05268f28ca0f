package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	fieldsKey
)

// UpdateFields are added to every line logged with the update's context.
type UpdateFields struct {
	RID      string
	UpdateID int
	UserID   int64
	ChatID   int64
	Handler  string
	Scope    string
	Role     string
	// Degraded is set when the session came from the fallback path.
	Degraded bool
	// Stale is set when authorization came from the cached snapshot.
	Stale bool
}

// FieldsFrom returns the update fields carried by ctx.
func FieldsFrom(ctx context.Context) UpdateFields {
	if ctx == nil {
		return UpdateFields{}
	}
	f, _ := ctx.Value(fieldsKey).(UpdateFields)
	return f
}

func withFields(ctx context.Context, mutate func(*UpdateFields)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := FieldsFrom(ctx)
	mutate(&f)
	return context.WithValue(ctx, fieldsKey, f)
}

// apply copies non-zero fields into a record without overriding explicit attrs.
func (f UpdateFields) apply(fields map[string]any) {
	set := func(key string, v any, present bool) {
		if !present {
			return
		}
		if _, ok := fields[key]; !ok {
			fields[key] = v
		}
	}
	set("rid", f.RID, f.RID != "")
	set("update_id", f.UpdateID, f.UpdateID != 0)
	set("user_id", f.UserID, f.UserID != 0)
	set("chat_id", f.ChatID, f.ChatID != 0)
	set("handler", f.Handler, f.Handler != "")
	set("scope", f.Scope, f.Scope != "")
	set("role", f.Role, f.Role != "")
	set("degraded", true, f.Degraded)
	set("stale", true, f.Stale)
}

// WithLogger stores log in ctx for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored in ctx, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
			return l
		}
	}
	return L
}

// WithRID attaches the update correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withFields(ctx, func(f *UpdateFields) { f.RID = rid })
}

// RIDFrom returns the correlation id, if any.
func RIDFrom(ctx context.Context) string { return FieldsFrom(ctx).RID }

// WithUpdateMeta attaches the update, sender and chat identifiers.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return withFields(ctx, func(f *UpdateFields) {
		f.UpdateID, f.UserID, f.ChatID = updateID, userID, chatID
	})
}

// WithHandler records the route handling the update.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" && ctx != nil {
		return ctx
	}
	return withFields(ctx, func(f *UpdateFields) { f.Handler = handler })
}

// WithScope records the session scope the update is bound to.
func WithScope(ctx context.Context, scope string) context.Context {
	if scope == "" && ctx != nil {
		return ctx
	}
	return withFields(ctx, func(f *UpdateFields) { f.Scope = scope })
}

// ScopeFrom returns the session scope, or "" outside a session.
func ScopeFrom(ctx context.Context) string { return FieldsFrom(ctx).Scope }

// WithRole records the resolved user role.
func WithRole(ctx context.Context, role string) context.Context {
	if role == "" && ctx != nil {
		return ctx
	}
	return withFields(ctx, func(f *UpdateFields) { f.Role = role })
}

// RoleFrom returns the role recorded by WithRole.
func RoleFrom(ctx context.Context) string { return FieldsFrom(ctx).Role }

// MarkDegraded flags the rest of the update's log lines as served without the store.
func MarkDegraded(ctx context.Context) context.Context {
	return withFields(ctx, func(f *UpdateFields) { f.Degraded = true })
}

// MarkStale flags the rest of the update's log lines as authorized from the snapshot.
func MarkStale(ctx context.Context) context.Context {
	return withFields(ctx, func(f *UpdateFields) { f.Stale = true })
}

// UserIDFrom returns the Telegram user id.
func UserIDFrom(ctx context.Context) int64 { return FieldsFrom(ctx).UserID }

// ChatIDFrom returns the chat id.
func ChatIDFrom(ctx context.Context) int64 { return FieldsFrom(ctx).ChatID }

// SanitizeLimit drops control and format runes (except tab and newline) and
// keeps at most limit runes of user-supplied text.
func SanitizeLimit(s string, limit int) string {
	if limit <= 0 || s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(min(len(s), limit*4))
	n := 0
	for _, r := range s {
		if r != '\n' && r != '\t' && (unicode.IsControl(r) || unicode.Is(unicode.Cf, r)) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// BuildRID returns a correlation identifier in the format updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID renders each RID segment in base36, joined by dots.
// Anything that is not a three-part numeric RID is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
