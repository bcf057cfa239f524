package router

import (
	"context"
	"strings"
	"unicode"

	kit "remindbot/internal/transport"
)

const (
	txtWelcome        = "👋 Привет! Я помогу не забыть о делах: создавайте задачи и напоминания, а я напомню о них вовремя."
	txtHelpHeader     = "Доступные команды:"
	txtHelpLine       = "/help - список команд"
	txtUnknownCommand = "Неизвестная команда. Список команд: /help"
	txtForbidden      = "⛔ Доступ запрещён"
	txtSessionGone    = "Диалог устарел, начните его заново"
)

// parseCommand extracts the command word of "/cmd@bot args". Telegram
// command names are [a-z0-9_]{1,32}; anything else is not a command.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	word := strings.TrimPrefix(text, "/")
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if !validCommand(word) {
		return "", false
	}
	return word, true
}

func validCommand(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

func (r *Router) helpText() string {
	var b strings.Builder
	b.WriteString(txtHelpHeader)
	for _, c := range r.menu() {
		if c.Command == "help" {
			continue
		}
		b.WriteString("\n/")
		b.WriteString(c.Command)
		b.WriteString(" - ")
		b.WriteString(c.Description)
	}
	b.WriteString("\n")
	b.WriteString(txtHelpLine)
	return b.String()
}

// menu lists the dialog commands in registration order, then help.
func (r *Router) menu() []kit.BotCommand {
	flows := r.dialogs.Flows()
	out := make([]kit.BotCommand, 0, len(flows)+1)
	for _, f := range flows {
		if !validCommand(f.Command()) {
			continue
		}
		out = append(out, kit.BotCommand{Command: f.Command(), Description: f.Description()})
	}
	return append(out, kit.BotCommand{Command: "help", Description: "список команд"})
}

// PublishMenu pushes the command list to the platform menu when the adapter
// supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, r.menu())
}
