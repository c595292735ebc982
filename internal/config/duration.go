package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional duration at the given config key.
// Empty means 0. Negative values are rejected.
func ParseDurationField(key, raw string) (time.Duration, error) {
	return parseDuration(key, raw, 0)
}

// ParseDurationOrDefault falls back to def when the value is empty or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(key, raw, def)
}

func parseDuration(key, raw string, fallback time.Duration) (time.Duration, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(text)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	case d == 0:
		return fallback, nil
	}
	return d, nil
}
