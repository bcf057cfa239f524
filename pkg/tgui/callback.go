package tgui

import (
	"strings"
)

// Data formats inline callback data as "prefix:action:payload".
// Payload is kept as-is (no escaping) and may itself contain ':'.
func Data(prefix, action, payload string) string {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	if payload == "" {
		return prefix + ":" + action
	}
	return prefix + ":" + action + ":" + payload
}

// Parse splits data produced by Data. ok is false when data has no action.
func Parse(data string) (prefix, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

// HasPrefix reports whether data is addressed to prefix.
func HasPrefix(data, prefix string) bool {
	return strings.HasPrefix(strings.TrimSpace(data), prefix+":")
}

// CheckData validates callback data against Telegram's size limit.
func CheckData(data string) error {
	if data == "" || len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
