// Package tgui provides small Telegram UI helpers:
//   - transport-neutral buttons and keyboards, converted to telebot markup
//   - callback data helpers (prefix:action:payload) within the 64-byte limit
//   - rune-safe text truncation
package tgui
