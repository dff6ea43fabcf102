package domain

import (
	"time"

	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
)

// NextBillingDate adds one recurrence interval to base and bumps the
// result to tomorrow when it would not land strictly in the future.
// A past or same-day result would schedule a duplicate cycle.
func NextBillingDate(base time.Time, freq subscriptiondomain.Frequency, today time.Time) (time.Time, error) {
	months, err := freq.Months()
	if err != nil {
		return time.Time{}, err
	}
	next := dateOf(base).AddDate(0, months, 0)
	if !next.After(dateOf(today)) {
		next = dateOf(today).AddDate(0, 0, 1)
	}
	return next, nil
}

// BaseBillingDate picks the reference point for the next cycle:
// last billing date, then start date, then today.
func BaseBillingDate(lastBillingDate *time.Time, startDate time.Time, today time.Time) time.Time {
	if lastBillingDate != nil {
		return *lastBillingDate
	}
	if !startDate.IsZero() {
		return startDate
	}
	return today
}

// IsDue reports whether an active schedule should bill at checkDate.
func IsDue(status ScheduleStatus, nextBillingDate, checkDate time.Time) bool {
	return status == ScheduleStatusActive && !dateOf(nextBillingDate).After(dateOf(checkDate))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
