package ui

import (
	"context"
	"testing"

	"github.com/m3rciful/dispatchbot/core/telegram/sender/sendertest"

	tele "gopkg.in/telebot.v4"
)

func TestStepSendsThenEdits(t *testing.T) {
	tr := sendertest.New()
	tracker := NewTracker(tr, "")
	st := &State{}
	ctx := context.Background()

	first, err := tracker.Step(ctx, st, 10, StepOptions{ID: "menu", Text: "v1"})
	if err != nil || !first.Sent {
		t.Fatalf("first render: %+v %v", first, err)
	}
	second, err := tracker.Step(ctx, st, 10, StepOptions{ID: "menu", Text: "v2"})
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if second.Sent || second.MessageID != first.MessageID {
		t.Fatalf("expected edit in place, got %+v", second)
	}
	if edits := tr.CallsOf("edit"); len(edits) != 1 || edits[0].Text != "v2" {
		t.Fatalf("unexpected edits: %+v", edits)
	}
}

func TestStepFallsBackToSendOnEditFailure(t *testing.T) {
	tr := sendertest.New()
	tracker := NewTracker(tr, "")
	st := &State{}
	ctx := context.Background()

	first, _ := tracker.Step(ctx, st, 10, StepOptions{ID: "verify", Text: "a"})
	tr.FailEdit = func(int64, int) error {
		return &tele.Error{Code: 400, Description: "Bad Request: message to edit not found"}
	}
	second, err := tracker.Step(ctx, st, 10, StepOptions{ID: "verify", Text: "b"})
	if err != nil {
		t.Fatalf("fallback send failed: %v", err)
	}
	if !second.Sent || second.MessageID == first.MessageID {
		t.Fatalf("expected a new message, got %+v", second)
	}
	if st.Steps["verify"].MessageID != second.MessageID {
		t.Fatalf("mapping not updated: %+v", st.Steps["verify"])
	}
}

func TestStepNotModifiedCountsAsEdit(t *testing.T) {
	tr := sendertest.New()
	tracker := NewTracker(tr, "")
	st := &State{}
	ctx := context.Background()

	first, _ := tracker.Step(ctx, st, 10, StepOptions{ID: "x", Text: "same"})
	tr.FailEdit = func(int64, int) error {
		return &tele.Error{Code: 400, Description: "Bad Request: message is not modified"}
	}
	res, err := tracker.Step(ctx, st, 10, StepOptions{ID: "x", Text: "same"})
	if err != nil || res.Sent || res.MessageID != first.MessageID {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
	if n := len(tr.CallsOf("send")); n != 1 {
		t.Fatalf("sends = %d, want 1", n)
	}
}

func TestHomeActionRegisteredAndCleanup(t *testing.T) {
	tr := sendertest.New()
	tracker := NewTracker(tr, "Home")
	st := &State{}
	ctx := context.Background()

	kb := &tele.ReplyMarkup{}
	kb.InlineKeyboard = [][]tele.InlineButton{{*kb.Data("Go", "go").Inline()}}

	res, err := tracker.Step(ctx, st, 10, StepOptions{ID: "sub", Text: "t", Keyboard: kb, HomeAction: "executor", Cleanup: true})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !st.IsHomeAction("executor") {
		t.Fatal("home action not registered")
	}
	if len(kb.InlineKeyboard) != 1 {
		t.Fatal("caller keyboard was mutated")
	}
	sent := tr.CallsOf("send")[0]
	if rows := sent.Markup.InlineKeyboard; len(rows) != 2 || rows[1][0].Text != "Home" {
		t.Fatalf("home button missing: %+v", rows)
	}

	_, _ = tracker.Step(ctx, st, 10, StepOptions{ID: "keep", Text: "k"})
	if n := tracker.Cleanup(ctx, st); n != 1 {
		t.Fatalf("deleted %d steps, want 1", n)
	}
	if del := tr.CallsOf("delete"); len(del) != 1 || del[0].MessageID != res.MessageID {
		t.Fatalf("unexpected deletes: %+v", del)
	}
	if _, ok := st.Steps["keep"]; !ok {
		t.Fatal("non-cleanup step removed")
	}
	if st.IsHomeAction("executor") {
		t.Fatal("home actions not cleared")
	}
}
