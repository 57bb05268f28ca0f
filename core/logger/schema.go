package logger

import "strings"

// enumerations lists the accepted values of closed-vocabulary keys. Unknown
// status values are kept as written; unknown values of the other keys are dropped.
var enumerations = map[string]map[string]bool{
	"status":  set("ok", "duplicate", "degraded", "fail", "skip", "retry", "rate_limited", "cancelled"),
	"outcome": set("ok", "fail", "cancelled", "rate_limited"),
	// source of the document on the degraded session path
	"source": set("store", "cache", "default"),
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// normalizeLevel maps slog level names ("INFO", "WARN+2") to their base name.
func normalizeLevel(level string) string {
	level = strings.ToUpper(strings.TrimSpace(level))
	if base, _, ok := strings.Cut(level, "+"); ok {
		level = base
	} else if base, _, ok := strings.Cut(level, "-"); ok {
		level = base
	}
	switch level {
	case "":
		return "INFO"
	case "WARNING":
		return "WARN"
	}
	return level
}

func normalizeEnumerations(fields map[string]any) {
	for key, allowed := range enumerations {
		raw, ok := fields[key].(string)
		if !ok || raw == "" {
			continue
		}
		v := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case allowed[v]:
			fields[key] = v
		case key == "status":
			fields[key] = raw
		default:
			delete(fields, key)
		}
	}
}

// defaultKeyOrder puts identity and correlation first, then the dispatch
// domain keys, then error details.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"kind",
	"cb_key",
	"action",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"payload",
	"username",
	"mode",
	"listen",
	"public_url",
	"db",
	"host",
	"port",
	"scope",
	"role",
	"user_role",
	"stage",
	"step_id",
	"source",
	"application_id",
	"order_id",
	"payment_id",
	"period",
	"actor_id",
	"reviewer",
	"channel",
	"message_id",
	"required",
	"degraded",
	"stale",
	"reason",
	"err",
	"err_code",
	"cause",
	"attempts",
}
