package dialog

import (
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/todo"
	"remindbot/pkg/tgui"
)

// Event is one inbound update as the dialogs see it. Data is set for
// inline-button presses and empty for plain text messages.
type Event struct {
	ChatID   int64
	UserID   int64
	UserName string
	Text     string
	Data     string
}

func (e Event) IsAction() bool { return e.Data != "" }

// Reply is what a transition produces. Notices are sent before Text as
// separate messages.
type Reply struct {
	Notices []string
	Text    string
	Buttons tgui.Keyboard
	Done    bool
}

// Key addresses a session. A user may run one conversation per command
// in every chat.
type Key struct {
	Command string
	ChatID  int64
	UserID  int64
}

// Session is the state of one conversation.
type Session struct {
	Key
	UserName string

	// State is the current token; "" shows the command's first menu.
	State   string
	Waiting bool

	Task    todo.Task
	Builder *todo.Builder

	Tasks     reminder.Snapshot
	Reminders reminder.Snapshot

	touched time.Time
}

// Catches reports whether ev belongs to s. Both kinds of event must come
// from the session user; actions must carry the command prefix and text
// must arrive in the session chat.
func (s *Session) Catches(ev Event) bool {
	if s == nil || !s.Waiting || ev.UserID != s.UserID {
		return false
	}
	if ev.IsAction() {
		return tgui.HasPrefix(ev.Data, s.Command)
	}
	return ev.ChatID == s.ChatID
}

// End stops the session; the manager drops it after the current reply.
func (s *Session) End() { s.Waiting = false }

func (s *Session) data(action, payload string) string {
	return tgui.Data(s.Command, action, payload)
}

func (s *Session) btn(label, action, payload string) tgui.Button {
	return tgui.Button{Label: label, Data: s.data(action, payload)}
}
