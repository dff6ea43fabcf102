package domain

import (
	"math"
	"time"
)

// Shaping tunes when a computed retry timestamp actually lands.
type Shaping struct {
	AvoidWeekends   bool
	PreferredWindow string
}

const (
	WindowMorning   = "morning"
	WindowAfternoon = "afternoon"
	WindowEvening   = "evening"
)

// Backoff is the schedule parameterization copied onto each retry
// record at creation time, so later policy edits never reshape
// in-flight retries.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Delay returns the raw exponential delay for the given zero-based
// attempt, capped at MaxDelay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(b.InitialDelay) * math.Pow(mult, float64(attempt)))
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// NextRetryDate schedules the attempt after the given zero-based
// attempt count, then applies shaping adjustments.
func NextRetryDate(base time.Time, b Backoff, attempt int, shaping Shaping) time.Time {
	return AdjustRetryDate(base.Add(b.Delay(attempt)), shaping)
}

// AdjustRetryDate rolls weekend timestamps forward to Monday and then
// snaps the time of day into the preferred window. The roll happens
// first so a Saturday evening retry lands Monday evening, not
// Saturday evening.
func AdjustRetryDate(ts time.Time, shaping Shaping) time.Time {
	if shaping.AvoidWeekends {
		for ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday {
			ts = ts.AddDate(0, 0, 1)
		}
	}
	switch shaping.PreferredWindow {
	case WindowMorning:
		ts = atHour(ts, 9)
	case WindowAfternoon:
		ts = atHour(ts, 14)
	case WindowEvening:
		ts = atHour(ts, 19)
	}
	return ts
}

func atHour(ts time.Time, hour int) time.Time {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), hour, 0, 0, 0, ts.Location())
}
