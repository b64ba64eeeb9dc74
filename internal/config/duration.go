package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	day     = 24 * time.Hour
	maxDays = int64(math.MaxInt64 / day)
)

var errDayRange = errors.New("day count out of range")

// parseDuration accepts Go duration strings plus whole days ("7d", "31d"),
// which is how the long phase waits are usually written.
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	days, ok := strings.CutSuffix(s, "d")
	if !ok {
		return time.ParseDuration(s)
	}
	n, err := strconv.ParseInt(days, 10, 64)
	if err != nil {
		return 0, err
	}
	if n > maxDays || n < -maxDays {
		return 0, errDayRange
	}
	return time.Duration(n) * day, nil
}

// ParseDurationField parses an optional, non-negative config duration. An
// empty value is zero. Errors name the config path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := parseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for a
// missing or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
