// Package timewin parses the relative time windows used by log tools
// ("10m", "2h", "1d", "1w") and formats durations for reports.
package timewin

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var windowRe = regexp.MustCompile(`^(\d+)([smhdw])$`)

var unitDurations = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseWindow converts a relative window expression into a duration.
// Accepted units: s, m, h, d, w.
func ParseWindow(expr string) (time.Duration, error) {
	m := windowRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(expr)))
	if m == nil {
		return 0, fmt.Errorf("invalid time window %q (want e.g. 30s, 10m, 2h, 1d, 1w)", expr)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time window %q: %w", expr, err)
	}
	return time.Duration(n) * unitDurations[m[2]], nil
}

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimeAt resolves expr against ref: a relative window means
// "that long before ref", anything else is tried as an absolute
// timestamp.
func ParseTimeAt(expr string, ref time.Time) (time.Time, error) {
	if d, err := ParseWindow(expr); err == nil {
		return ref.Add(-d), nil
	}
	s := strings.TrimSpace(expr)
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", expr)
}

// ParseTime resolves expr against the current wall clock.
func ParseTime(expr string) (time.Time, error) {
	return ParseTimeAt(expr, time.Now())
}

// FormatDuration renders a duration the way session reports show it:
// sub-minute values with one decimal, longer values in coarse units.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := d.Seconds()
	switch {
	case sec < 60:
		return fmt.Sprintf("%.1fs", sec)
	case sec < 3600:
		m := int(sec) / 60
		s := int(sec) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		h := int(sec) / 3600
		m := (int(sec) % 3600) / 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
}
