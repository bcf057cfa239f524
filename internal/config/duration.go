package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads the duration at path. Blank or zero yields def, so a
// zero def marks an optional field.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
