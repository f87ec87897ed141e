// Package timesheet converts clock times and durations to billable decimal hours.
package timesheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/and161185/timesync/internal/errs"
)

const minutesPerDay = 24 * 60

// fraction maps a minute remainder (index 1..59) to its billed share of an hour.
// The values are fixed and intentionally not computed from m/60.
var fraction = [60]float64{
	0,
	0.02, 0.03, 0.05, 0.07, 0.08, 0.10, 0.12, 0.13, 0.15, 0.17,
	0.18, 0.20, 0.22, 0.23, 0.25, 0.27, 0.28, 0.30, 0.32, 0.33,
	0.35, 0.37, 0.38, 0.40, 0.42, 0.43, 0.45, 0.47, 0.48, 0.50,
	0.52, 0.53, 0.55, 0.57, 0.58, 0.60, 0.62, 0.63, 0.65, 0.67,
	0.68, 0.70, 0.72, 0.73, 0.75, 0.77, 0.78, 0.80, 0.82, 0.83,
	0.85, 0.87, 0.88, 0.90, 0.92, 0.93, 0.95, 0.97, 0.98,
}

// MinutesToDecimal converts a whole number of minutes to decimal hours with
// two decimals. Negative input yields 0.
func MinutesToDecimal(minutes int) float64 {
	if minutes <= 0 {
		return 0
	}
	h := minutes / 60
	return round2(float64(h) + fraction[minutes%60])
}

// CalculateTotalHours returns decimal hours between two minute-of-day values,
// wrapping past midnight when start is after end.
func CalculateTotalHours(startMinutes, endMinutes int) float64 {
	if startMinutes > endMinutes {
		return MinutesToDecimal(minutesPerDay - startMinutes + endMinutes)
	}
	return MinutesToDecimal(endMinutes - startMinutes)
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: clock %q", errs.ErrInvalidInput, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q", errs.ErrInvalidInput, s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM", wrapping at 24h.
func FormatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// HoursBetween parses two "HH:MM" clock times and returns the billed hours.
func HoursBetween(start, end string) (float64, error) {
	s, err := ParseClock(start)
	if err != nil {
		return 0, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0, err
	}
	return CalculateTotalHours(s, e), nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
