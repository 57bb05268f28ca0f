package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes an inline button. Unique selects the callback handler and
// Data is its payload.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

const cancelText = "❌ Cancel"

// Cancel returns the standard cancel button for a flow.
func Cancel(unique, data string) InlineBtn {
	return InlineBtn{Text: cancelText, Unique: unique, Data: data}
}

// RemoveKeyboard returns a markup that hides the reply keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// ContactRequest returns a one-time reply keyboard with a single share-contact button.
func ContactRequest(label string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	markup.Reply(markup.Row(markup.Contact(label)))
	return markup
}

// InlineButtons builds an inline keyboard with one button per row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineBtn{b})
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from rows of InlineBtn.
// Empty rows are skipped.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = *markup.Data(btn.Text, btn.Unique, btn.Data).Inline()
		}
		inline = append(inline, r)
	}
	markup.InlineKeyboard = inline
	return markup
}

// InlineButtonsNPerRow lays buttons out n per row; n <= 1 means one per row.
func InlineButtonsNPerRow(buttons []InlineBtn, n int) *tele.ReplyMarkup {
	if n <= 1 {
		return InlineButtons(buttons)
	}
	rows := make([][]InlineBtn, 0, (len(buttons)+n-1)/n)
	for start := 0; start < len(buttons); start += n {
		end := min(start+n, len(buttons))
		rows = append(rows, buttons[start:end])
	}
	return InlineButtonsRows(rows...)
}
