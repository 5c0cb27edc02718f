package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is returned by ParseDuration for unparseable input.
var ErrInvalidDuration = errors.New("moderation: invalid duration")

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var (
	durationRe = regexp.MustCompile(`^(?:\d+[wdhms])+$`)
	partRe     = regexp.MustCompile(`(\d+)([wdhms])`)
	unitSize   = map[string]time.Duration{"w": week, "d": day, "h": time.Hour, "m": time.Minute, "s": time.Second}
)

// ParseDuration accepts compound durations such as 1h30m, 2d, 1w3d or 90s,
// and plain integers meaning seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrInvalidDuration
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDuration, s)
		}
		return time.Duration(n) * time.Second, nil
	}
	if !durationRe.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var total time.Duration
	for _, m := range partRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		total += time.Duration(n) * unitSize[m[2]]
	}
	return total, nil
}

var humanUnits = []struct {
	name string
	size time.Duration
}{
	{"week", week},
	{"day", day},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// HumanDuration renders d as "1 hour and 30 minutes". Sub-second remainders
// are dropped; anything under a second is "now".
func HumanDuration(d time.Duration) string {
	var parts []string
	for _, u := range humanUnits {
		n := d / u.size
		if n <= 0 {
			continue
		}
		d -= n * u.size
		unit := u.name
		if n != 1 {
			unit += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, unit))
	}
	switch len(parts) {
	case 0:
		return "now"
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " ") + " and " + parts[len(parts)-1]
}
