package compute

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MilliScale is the divisor pwrstatd applies to voltages, load and ratings.
// A reported 121000 means 121.0 V; a load of 9000 means 9.0 %.
const MilliScale = 1000.0

// secondsPerMinute converts the daemon's remaining-time seconds to minutes.
const secondsPerMinute = 60

// FromMilli converts a milli-scaled integer reading into its physical unit.
func FromMilli(raw int64) float64 {
	return float64(raw) / MilliScale
}

// Amps derives output current from real power and output voltage.
//
// A UPS with its output switched off reports 0 V. Dividing by it would
// yield Inf or NaN, which the time-series store rejects, so 0 V maps to 0 A.
func Amps(watts, volts float64) float64 {
	if volts == 0 {
		return 0
	}
	return watts / volts
}

// Watts derives output power from the milli-scaled rated wattage and the
// load percentage (0–100): rating × load/100.
func Watts(ratingMilliWatts int64, loadPct float64) float64 {
	return FromMilli(ratingMilliWatts) * (loadPct / 100)
}

// RuntimeMinutes returns floor(seconds / 60).
func RuntimeMinutes(seconds int64) int64 {
	return int64(math.Floor(float64(seconds) / secondsPerMinute))
}

// ParseFloat parses s as a finite float64. Surrounding whitespace is ignored;
// anything else that strconv rejects, plus NaN and ±Inf, is an error.
func ParseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse float %q: not a finite number", s)
	}
	return f, nil
}

// ParseInt parses s as a base-10 int64, ignoring surrounding whitespace.
func ParseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int %q: %w", s, err)
	}
	return n, nil
}
