package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackDataGenericEncoding(t *testing.T) {
	cb := &tele.Callback{Data: "\fmod_verify_ok|42|ab12cd"}
	key, payload := ParseCallbackData(cb)
	if key != "mod_verify_ok" || payload != "42|ab12cd" {
		t.Fatalf("got %q %q", key, payload)
	}
}

func TestParseCallbackDataPreferUnique(t *testing.T) {
	cb := &tele.Callback{Unique: "role", Data: "courier"}
	key, payload := ParseCallbackData(cb)
	if key != "role" || payload != "courier" {
		t.Fatalf("got %q %q", key, payload)
	}
}

func TestEncode(t *testing.T) {
	if got := Encode("42", "tok"); got != "42|tok" {
		t.Fatalf("Encode = %q", got)
	}
}
