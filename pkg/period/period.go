// Package period resolves scale periods and window labels into durations
// and computes epoch-aligned boundaries.
package period

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned when a value cannot be resolved to a positive duration.
var ErrInvalidPeriod = errors.New("invalid period")

// Resolve converts a period given either as raw milliseconds (any integer
// type, an integral float, or a digits-only string) or as a duration string
// ("40s", "1m", "1h30m", "1d") into a time.Duration.
//
// Resolution is pure: the same input always yields the same result.
func Resolve(v interface{}) (time.Duration, error) {
	switch p := v.(type) {
	case time.Duration:
		return positive(p, v)
	case int:
		return positive(time.Duration(p)*time.Millisecond, v)
	case int32:
		return positive(time.Duration(p)*time.Millisecond, v)
	case int64:
		return positive(time.Duration(p)*time.Millisecond, v)
	case uint:
		return positive(time.Duration(p)*time.Millisecond, v)
	case uint32:
		return positive(time.Duration(p)*time.Millisecond, v)
	case uint64:
		if p > math.MaxInt64/uint64(time.Millisecond) {
			return 0, fmt.Errorf("%w: %v overflows", ErrInvalidPeriod, v)
		}
		return positive(time.Duration(p)*time.Millisecond, v)
	case float64:
		if p != math.Trunc(p) {
			return 0, fmt.Errorf("%w: %v is not a whole number of milliseconds", ErrInvalidPeriod, v)
		}
		return positive(time.Duration(p)*time.Millisecond, v)
	case string:
		return ParseLabel(p)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidPeriod, v)
	}
}

// ParseLabel parses a duration label. Digits-only labels are milliseconds.
// A trailing "d" counts days, everything else follows time.ParseDuration.
func ParseLabel(label string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(label))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPeriod)
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return positive(time.Duration(ms)*time.Millisecond, label)
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, label)
		}
		return positive(time.Duration(days)*24*time.Hour, label)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, label)
	}
	return positive(d, label)
}

// Floor returns the start of the period-aligned slot containing ts. Slots
// are aligned to the Unix epoch so independent processes agree on them.
func Floor(ts time.Time, p time.Duration) time.Time {
	ms := p.Milliseconds()
	if ms <= 0 {
		return ts
	}
	return time.UnixMilli(FloorMs(ts.UnixMilli(), ms)).UTC()
}

// FloorMs is Floor on raw milliseconds.
func FloorMs(tsMs, stepMs int64) int64 {
	if stepMs <= 0 {
		return tsMs
	}
	q := tsMs / stepMs
	if tsMs < 0 && tsMs%stepMs != 0 {
		q--
	}
	return q * stepMs
}

// Next returns the first slot boundary strictly after ts.
func Next(ts time.Time, p time.Duration) time.Time {
	return Floor(ts, p).Add(p)
}

// Label formats a duration the way window labels are written ("30m", "4h", "1d").
func Label(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d >= time.Second && d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

func positive(d time.Duration, src interface{}) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("%w: %v must be positive", ErrInvalidPeriod, src)
	}
	return d, nil
}
