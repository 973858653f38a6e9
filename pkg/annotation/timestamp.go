package annotation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrBadTimestamp is returned for timestamps that are not "SS", "MM:SS" or "HH:MM:SS".
var ErrBadTimestamp = errors.New("annotation: bad timestamp")

// ParseTimestamp converts a video-relative timestamp to seconds.
// Accepted forms: "12.5", "00:10", "1:02:03" and "00:10.25".
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrBadTimestamp
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}

	var total float64
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "-") || strings.HasPrefix(p, "+") {
			return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
		}
		// Only the last component may carry a fraction.
		if i < len(parts)-1 && v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
		}
		total = total*60 + v
	}
	return total, nil
}

// FormatTimestamp renders seconds as MM:SS, or HH:MM:SS past an hour.
func FormatTimestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	whole := int(sec)
	h, m, s := whole/3600, (whole/60)%60, whole%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
