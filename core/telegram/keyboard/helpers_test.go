package keyboard

import "testing"

func TestInlineButtonsNPerRow(t *testing.T) {
	btns := []InlineBtn{
		{Text: "a", Unique: "u", Data: "1"},
		{Text: "b", Unique: "u", Data: "2"},
		{Text: "c", Unique: "u", Data: "3"},
	}
	kb := InlineButtonsNPerRow(btns, 2)
	if len(kb.InlineKeyboard) != 2 || len(kb.InlineKeyboard[0]) != 2 || len(kb.InlineKeyboard[1]) != 1 {
		t.Fatalf("layout = %+v", kb.InlineKeyboard)
	}
	if b := kb.InlineKeyboard[1][0]; b.Unique != "u" || b.Data != "3" {
		t.Fatalf("button = %+v", b)
	}
}

func TestInlineButtonsRowsSkipsEmptyRows(t *testing.T) {
	kb := InlineButtonsRows(nil, []InlineBtn{Cancel("x", "taxi")})
	if len(kb.InlineKeyboard) != 1 || kb.InlineKeyboard[0][0].Text != cancelText {
		t.Fatalf("rows = %+v", kb.InlineKeyboard)
	}
}

func TestContactRequest(t *testing.T) {
	kb := ContactRequest("share")
	if len(kb.ReplyKeyboard) != 1 || !kb.ReplyKeyboard[0][0].Contact || !kb.OneTimeKeyboard {
		t.Fatalf("markup = %+v", kb)
	}
}
