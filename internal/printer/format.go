package printer

import (
	"fmt"
	"time"
)

// TimeAgo returns a human-readable relative time string in UTC.
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future (UTC)"
	}

	unit := func(n int, name string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago (UTC)", name)
		}
		return fmt.Sprintf("%d %ss ago (UTC)", n, name)
	}

	switch {
	case diff < time.Minute:
		return unit(int(diff.Seconds()), "second")
	case diff < time.Hour:
		return unit(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return unit(int(diff.Hours()), "hour")
	default:
		return unit(int(diff.Hours()/24), "day")
	}
}

// FormatTimestamp returns a formatted timestamp string in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatBytes returns a human-readable byte size.
func FormatBytes(b int64) string {
	const k = 1024
	if b < k {
		return fmt.Sprintf("%d B", b)
	}

	div, exp := int64(k), 0
	for n := b / k; n >= k; n /= k {
		div *= k
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
