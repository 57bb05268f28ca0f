package callbacks

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// PayloadInt64 parses the callback payload as int64.
func PayloadInt64(c tele.Context) (int64, error) {
	return strconv.ParseInt(CallbackPayload(c), 10, 64)
}

// PayloadParts splits the callback payload on sep, rejecting empty payloads.
func PayloadParts(c tele.Context, sep string) ([]string, error) {
	p := CallbackPayload(c)
	if p == "" {
		return nil, strconv.ErrSyntax
	}
	return strings.Split(p, sep), nil
}

// PayloadIDToken parses payloads shaped like "<id>|<token>" used by moderation buttons.
func PayloadIDToken(c tele.Context) (int64, string, error) {
	parts, err := PayloadParts(c, "|")
	if err != nil {
		return 0, "", err
	}
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", strconv.ErrSyntax
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", err
	}
	return id, parts[1], nil
}
