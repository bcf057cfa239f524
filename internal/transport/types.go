// Package transport defines the chat-platform neutral update and delivery
// types shared by the router, the dialog flows and the notifier.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic id, 0 if none
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Markup is adapter specific (Telegram: *telebot.ReplyMarkup).
	Markup any
}

type Notification struct {
	Channel  string // "telegram"
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
	// Key overrides the content hash used for duplicate suppression, e.g.
	// "owner/name@nominal" for a job fire.
	Key string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish the
// platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
