package utils

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a duration string like "5m". Blank input yields def;
// zero or negative durations are rejected.
func ParseDuration(d string, def time.Duration) (time.Duration, error) {
	d = strings.TrimSpace(d)
	if d == "" {
		return def, nil
	}
	duration, err := time.ParseDuration(d)
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("duration %s must be positive", d)
	}
	return duration, nil
}
