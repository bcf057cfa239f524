package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const chatTextMax = 3500

type chatWriter struct{ svc *Service }

func (w chatWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.InfoLevel, p) }

func (w chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	chatID, threadID, lim, min, send := s.chatID, s.threadID, s.limiter, s.minLevel, s.send
	s.mu.Unlock()

	if chatID == 0 || send == nil || lim == nil || level < min || !lim.Allow() {
		return len(p), nil
	}
	text := formatChatLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case s.lines <- chatLine{chatID: chatID, threadID: threadID, text: text}:
	default:
	}
	return len(p), nil
}

// formatChatLine renders a zerolog JSON line as "[LEVEL] msg" plus one
// "- key=value" line per field, keys sorted.
func formatChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return clip(strings.TrimSpace(string(p)), chatTextMax)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", zerolog.MessageFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		b.WriteString("\n- " + k + "=" + clip(fmt.Sprint(m[k]), limit))
	}
	return clip(b.String(), chatTextMax)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
