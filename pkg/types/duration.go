package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTestDuration is applied when a test omits `duration`.
const DefaultTestDuration = 5 * time.Minute

var unitScale = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseDuration parses tmt's "N[smhd]" duration grammar: one or more
// "<number><unit>" terms summed together (e.g. "1h30m"), optionally
// followed by "*F" to multiply the whole sum by F (e.g. "10m*3" for a
// test whose time budget is tripled under a multiplying context).
// An empty string yields DefaultTestDuration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultTestDuration, nil
	}

	factor := 1.0
	if idx := strings.IndexByte(s, '*'); idx >= 0 {
		f, err := strconv.ParseFloat(s[idx+1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration multiplier in %q: %w", s, err)
		}
		factor = f
		s = s[:idx]
	}

	var total time.Duration
	num := strings.Builder{}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num.WriteByte(c)
		case c == '.':
			num.WriteByte(c)
		default:
			scale, ok := unitScale[c]
			if !ok {
				return 0, fmt.Errorf("invalid duration unit %q in %q", string(c), s)
			}
			if num.Len() == 0 {
				return 0, fmt.Errorf("missing number before unit %q in %q", string(c), s)
			}
			n, err := strconv.ParseFloat(num.String(), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration term in %q: %w", s, err)
			}
			total += time.Duration(n * float64(scale))
			num.Reset()
		}
	}
	if num.Len() > 0 {
		return 0, fmt.Errorf("duration %q is missing a trailing unit", s)
	}

	return time.Duration(float64(total) * factor), nil
}
