package clock

import (
	"fmt"
	"time"
)

// FormatDuration renders d as HH:MM:SS. Negative durations get a leading "-",
// the components are taken from the magnitude. Fractions of a second are dropped.
func FormatDuration(d time.Duration) string {
	sign, secs := split(d)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, secs/3600, (secs%3600)/60, secs%60)
}

// FormatDurationShort renders d as MM:SS. Minutes are not capped at 59.
func FormatDurationShort(d time.Duration) string {
	sign, secs := split(d)
	return fmt.Sprintf("%s%02d:%02d", sign, secs/60, secs%60)
}

func split(d time.Duration) (sign string, secs int64) {
	if d < 0 {
		sign = "-"
		d = -d
	}
	secs = int64(d / time.Second)
	if secs == 0 {
		sign = ""
	}
	return sign, secs
}
