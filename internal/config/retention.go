package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var retentionUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseRetention converts values such as "90s", "12h", "7d" or "2w" into a
// duration. A bare number is read as seconds and an empty value yields zero.
func ParseRetention(value string) (time.Duration, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return 0, nil
	}
	if _, err := strconv.Atoi(value); err == nil {
		value += "s"
	}
	unit, ok := retentionUnits[value[len(value)-1]]
	if !ok {
		return 0, fmt.Errorf("retention %q: unknown unit (use s, m, h, d or w)", value)
	}
	amount, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || amount < 1 {
		return 0, fmt.Errorf("retention %q: amount must be a positive integer", value)
	}
	return time.Duration(amount) * unit, nil
}
