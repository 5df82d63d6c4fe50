package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField reads a duration setting such as "5s". Blank is zero.
// key names the setting in the returned error.
func ParseDurationField(key, raw string) (time.Duration, error) {
	return ParseDurationOrDefault(key, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def standing in for blank or zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
