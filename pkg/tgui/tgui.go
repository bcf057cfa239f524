package tgui

import (
	"fmt"

	tele "gopkg.in/telebot.v4"
)

// Button is a transport-neutral inline button: a label and its callback data.
type Button struct {
	Label string
	Data  string
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

// Column lays out buttons one per row.
func Column(btns ...Button) Keyboard {
	kb := make(Keyboard, 0, len(btns))
	for _, b := range btns {
		kb = append(kb, []Button{b})
	}
	return kb
}

// Len is the total number of buttons.
func (k Keyboard) Len() int {
	n := 0
	for _, row := range k {
		n += len(row)
	}
	return n
}

// Inline is a small builder for inline keyboards (ReplyMarkup).
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// Markup converts k to a telebot inline markup. Every callback must fit
// MaxCallbackDataLen; an empty keyboard yields nil.
func Markup(k Keyboard) (*tele.ReplyMarkup, error) {
	if k.Len() == 0 {
		return nil, nil
	}
	in := NewInline()
	for _, row := range k {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			if err := CheckData(b.Data); err != nil {
				return nil, fmt.Errorf("button %q: %w", b.Label, err)
			}
			btns = append(btns, Btn(TruncRunes(b.Label, maxLabelRunes), b.Data))
		}
		in.Row(btns...)
	}
	return in.Markup(), nil
}
