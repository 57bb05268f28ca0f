package ui

import (
	"context"
	"log/slog"
	"sort"

	"github.com/m3rciful/dispatchbot/core/logger"
	"github.com/m3rciful/dispatchbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// HomeUnique is the callback unique used by home buttons.
const HomeUnique = "ui_home"

// TrackedStep points at the last message used to render a step.
type TrackedStep struct {
	ChatID    int64 `json:"chatId"`
	MessageID int   `json:"messageId"`
	Cleanup   bool  `json:"cleanup"`
}

// State is the slice of a session document owned by the tracker.
type State struct {
	Steps       map[string]TrackedStep `json:"steps"`
	HomeActions []string               `json:"homeActions"`
}

// Normalize backfills nil collections.
func (s *State) Normalize() {
	if s.Steps == nil {
		s.Steps = map[string]TrackedStep{}
	}
	if s.HomeActions == nil {
		s.HomeActions = []string{}
	}
}

// IsHomeAction reports whether action was registered by a home button.
func (s *State) IsHomeAction(action string) bool {
	for _, a := range s.HomeActions {
		if a == action {
			return true
		}
	}
	return false
}

func (s *State) addHomeAction(action string) {
	if s.IsHomeAction(action) {
		return
	}
	s.HomeActions = append(s.HomeActions, action)
	sort.Strings(s.HomeActions)
}

// StepOptions describe one render of a logical step.
type StepOptions struct {
	ID         string
	Text       string
	Keyboard   *tele.ReplyMarkup
	HomeAction string
	Cleanup    bool
	ParseMode  tele.ParseMode
}

// StepResult reports the message that now shows the step.
type StepResult struct {
	MessageID int
	Sent      bool
}

// Tracker renders steps with edit-in-place semantics.
type Tracker struct {
	transport sender.Transport
	homeLabel string
}

// NewTracker returns a Tracker using transport. homeLabel is the home button text.
func NewTracker(transport sender.Transport, homeLabel string) *Tracker {
	if homeLabel == "" {
		homeLabel = "🏠 Menu"
	}
	return &Tracker{transport: transport, homeLabel: homeLabel}
}

// Step edits the tracked message for opts.ID in chatID, or sends a new one when
// nothing is tracked yet or the edit fails. The mapping in st is updated either way.
func (t *Tracker) Step(ctx context.Context, st *State, chatID int64, opts StepOptions) (StepResult, error) {
	st.Normalize()

	kb := opts.Keyboard
	if opts.HomeAction != "" {
		kb = t.withHome(kb, opts.HomeAction)
		st.addHomeAction(opts.HomeAction)
	}
	sendOpts := &tele.SendOptions{ReplyMarkup: kb, ParseMode: opts.ParseMode}

	if prev, ok := st.Steps[opts.ID]; ok && prev.ChatID == chatID && prev.MessageID != 0 {
		err := t.transport.Edit(ctx, chatID, prev.MessageID, opts.Text, sendOpts)
		if err == nil || sender.IsNotModified(err) {
			prev.Cleanup = prev.Cleanup || opts.Cleanup
			st.Steps[opts.ID] = prev
			return StepResult{MessageID: prev.MessageID}, nil
		}
		logger.Debug(ctx, "tg", "ui.step.edit_failed",
			slog.String("step_id", opts.ID),
			slog.Int("message_id", prev.MessageID),
			slog.String("err", err.Error()),
		)
	}

	id, err := t.transport.Send(ctx, chatID, opts.Text, sendOpts)
	if err != nil {
		return StepResult{}, err
	}
	st.Steps[opts.ID] = TrackedStep{ChatID: chatID, MessageID: id, Cleanup: opts.Cleanup}
	return StepResult{MessageID: id, Sent: true}, nil
}

// Forget drops the mapping for id without touching the message.
func (t *Tracker) Forget(st *State, id string) {
	if st.Steps != nil {
		delete(st.Steps, id)
	}
}

// Cleanup deletes every step marked for cleanup and clears registered home actions.
// Delete failures are logged; the mapping is dropped regardless.
func (t *Tracker) Cleanup(ctx context.Context, st *State) int {
	st.Normalize()
	ids := make([]string, 0, len(st.Steps))
	for id, step := range st.Steps {
		if step.Cleanup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	deleted := 0
	for _, id := range ids {
		step := st.Steps[id]
		if err := t.transport.Delete(ctx, step.ChatID, step.MessageID); err != nil {
			logger.Debug(ctx, "tg", "ui.cleanup.delete_failed",
				slog.String("step_id", id),
				slog.String("err", err.Error()),
			)
		} else {
			deleted++
		}
		delete(st.Steps, id)
	}
	st.HomeActions = []string{}
	return deleted
}

func (t *Tracker) withHome(kb *tele.ReplyMarkup, action string) *tele.ReplyMarkup {
	out := &tele.ReplyMarkup{}
	if kb != nil {
		*out = *kb
		out.InlineKeyboard = make([][]tele.InlineButton, 0, len(kb.InlineKeyboard)+1)
		out.InlineKeyboard = append(out.InlineKeyboard, kb.InlineKeyboard...)
	}
	home := out.Data(t.homeLabel, HomeUnique, action)
	out.InlineKeyboard = append(out.InlineKeyboard, []tele.InlineButton{*home.Inline()})
	return out
}
