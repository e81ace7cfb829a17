package racetimer

import (
	"fmt"
	"strconv"
	"strings"
)

// ReferenceTime is a road-book timestamp as written in the reference table.
type ReferenceTime struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	Seconds      int `json:"seconds"`
	Centiseconds int `json:"centiseconds"`
}

// MaxRaceClockHours bounds the hours field of an entered race clock.
const MaxRaceClockHours = 999

// ToCentiseconds converts the timestamp into a race-clock value.
func (r ReferenceTime) ToCentiseconds() int64 {
	return int64(r.Hours)*360000 + int64(r.Minutes)*6000 + int64(r.Seconds)*100 + int64(r.Centiseconds)
}

// ReferenceTimeFromCentiseconds splits a non-negative race-clock value.
func ReferenceTimeFromCentiseconds(cs int64) ReferenceTime {
	if cs < 0 {
		cs = -cs
	}
	return ReferenceTime{
		Hours:        int(cs / 360000),
		Minutes:      int(cs / 6000 % 60),
		Seconds:      int(cs / 100 % 60),
		Centiseconds: int(cs % 100),
	}
}

// FormatRaceClock renders centiseconds as HH:MM:SS:cc. Hours do not wrap.
func FormatRaceClock(cs int64) string {
	sign := ""
	if cs < 0 {
		sign = "-"
	}
	r := ReferenceTimeFromCentiseconds(cs)
	return fmt.Sprintf("%s%02d:%02d:%02d:%02d", sign, r.Hours, r.Minutes, r.Seconds, r.Centiseconds)
}

// ParseRaceClock accepts HH:MM:SS:cc or HH:MM:SS.
func ParseRaceClock(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 && len(parts) != 4 {
		return 0, fmt.Errorf("invalid race clock %q: want HH:MM:SS:cc", s)
	}

	values := make([]int, 4)
	for i, p := range parts {
		if p == "" || len(p) > 3 || strings.TrimLeft(p, "0123456789") != "" {
			return 0, fmt.Errorf("invalid race clock %q: bad field %q", s, p)
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid race clock %q: bad field %q", s, p)
		}
		values[i] = v
	}

	r := ReferenceTime{Hours: values[0], Minutes: values[1], Seconds: values[2], Centiseconds: values[3]}
	if err := r.Validate(); err != nil {
		return 0, fmt.Errorf("invalid race clock %q: %w", s, err)
	}
	return r.ToCentiseconds(), nil
}

// Validate checks every field is within its clock range.
func (r ReferenceTime) Validate() error {
	switch {
	case r.Hours < 0 || r.Hours > MaxRaceClockHours:
		return fmt.Errorf("hours must be within 0-%d", MaxRaceClockHours)
	case r.Minutes < 0 || r.Minutes > 59:
		return fmt.Errorf("minutes must be within 0-59")
	case r.Seconds < 0 || r.Seconds > 59:
		return fmt.Errorf("seconds must be within 0-59")
	case r.Centiseconds < 0 || r.Centiseconds > 99:
		return fmt.Errorf("centiseconds must be within 0-99")
	}
	return nil
}
