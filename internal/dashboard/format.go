package dashboard

import (
	"fmt"
	"math"
	"strings"

	"pagescope/internal/domain"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatCompact formats a count with B/M/K suffixes.
func FormatCompact(v float64) string {
	switch a := math.Abs(v); {
	case a >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case a >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case a >= 1e4:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return FormatInt(int(math.Round(v)))
	}
}

// FormatPercent formats a ratio as "X.XX%".
func FormatPercent(r float64) string {
	return fmt.Sprintf("%.2f%%", r*100)
}

// FormatChange formats a relative change as "+X.X%" or "-X.X%", or "" if
// zero. Drops the decimal at 100% and above to keep width compact.
func FormatChange(c float64) string {
	if c == 0 {
		return ""
	}
	pct := c * 100
	sign := "+"
	if pct < 0 {
		sign, pct = "-", -pct
	}
	if pct >= 100 {
		return fmt.Sprintf("%s%.0f%%", sign, pct)
	}
	return fmt.Sprintf("%s%.1f%%", sign, pct)
}

// FormatMetric formats an aggregate value the way its metric is read.
func FormatMetric(key domain.MetricKey, v float64) string {
	switch key {
	case domain.MetricCTR:
		return FormatPercent(v)
	case domain.MetricPosition:
		return fmt.Sprintf("%.1f", v)
	default:
		return FormatCompact(v)
	}
}

// FormatRange renders a range for headers; the zero range reads "All time".
func FormatRange(r domain.DateRange) string {
	return r.String()
}
