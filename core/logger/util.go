package logger

import (
	"encoding/base64"
	"log/slog"
	"strings"
	"time"
)

// RoundMS rounds d to the millisecond; negative durations log as zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings joins up to limit elements and reports whether some were cut.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	if len(values) <= limit {
		return strings.Join(values, ", "), false
	}
	return strings.Join(values[:limit], ", "), true
}

// Raw logs b as standard base64 under key, with its length under key_bytes.
// Stored payloads that fail to decode are kept this way for manual recovery.
func Raw(key string, b []byte) slog.Attr {
	return slog.Group("",
		slog.String(key, base64.StdEncoding.EncodeToString(b)),
		slog.Int(key+"_bytes", len(b)),
	)
}
