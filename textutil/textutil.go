package textutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatCents renders an amount of money for people: 1234567 is "$12,345.67".
// Whole-dollar amounts drop the cents.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	dollars := strconv.FormatInt(cents/100, 10)
	sb := strings.Builder{}
	for i, d := range dollars {
		if i > 0 && (len(dollars)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(d)
	}
	if rem := cents % 100; rem != 0 {
		return fmt.Sprintf("%s$%s.%02d", sign, sb.String(), rem)
	}
	return fmt.Sprintf("%s$%s", sign, sb.String())
}

// FormatBasisPoints renders 2500 as "25%" and 1234 as "12.34%".
func FormatBasisPoints(bp int) string {
	if bp%100 == 0 {
		return fmt.Sprintf("%d%%", bp/100)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%02d", bp/100, bp%100), "0") + "%"
}

// FormatPlace converts a numeric place (1, 2, 3, ...) to a string ("1st", "2nd", "3rd", ...).
func FormatPlace(place int) string {
	suffix := "th"
	if place%100 < 11 || place%100 > 13 {
		switch place % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", place, suffix)
}

// FormatClock renders a remaining time the way a tournament clock shows it,
// MM:SS, or H:MM:SS past the hour.  Negative durations show as 00:00.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, (secs/60)%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
