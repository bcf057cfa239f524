// Package logx is remindbot's structured logging layer.
//
// Logger wraps zerolog with a few conventions:
//   - console output is human readable with a short caller
//   - the optional file sink writes JSON lines
//   - the optional chat sink forwards warnings to a Telegram group, rate limited
//
// A Logger obtained from Service follows Service.Apply, so components keep
// their logger across config reloads.
package logx
