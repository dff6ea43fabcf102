package domain

import "time"

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GraceEndDate is the last day on which no dunning step may fire.
func GraceEndDate(startedAt time.Time, graceDays int) time.Time {
	return dateOf(startedAt).AddDate(0, 0, graceDays)
}

// SuspensionDate trails the final step by the configured delay.
func SuspensionDate(finalStep time.Time, delayDays int) time.Time {
	return dateOf(finalStep).AddDate(0, 0, delayDays)
}

// ProjectedFinalStepDate walks the step chain from the invoice due
// date and returns where the last step is scheduled to land. Actual
// execution can drift later, and the suspension follows execution, so
// this is only the advertised date.
func ProjectedFinalStepDate(steps []DunningStep, dueDate, graceEnd time.Time) time.Time {
	var last *time.Time
	for i := range steps {
		at := StepActionDate(steps[i], dueDate, last, graceEnd)
		last = &at
	}
	if last == nil {
		return graceEnd
	}
	return *last
}

// InGracePeriod blocks execution through the grace end date itself.
func InGracePeriod(now, graceEnd time.Time) bool {
	return !dateOf(now).After(graceEnd)
}

// StepActionDate schedules a step. A positive DaysAfterPreviousStep
// anchors to the previous execution when there was one; otherwise the
// step counts from the invoice due date. The result never lands
// inside the grace period.
func StepActionDate(step DunningStep, dueDate time.Time, lastAction *time.Time, graceEnd time.Time) time.Time {
	var at time.Time
	if step.DaysAfterPreviousStep > 0 && lastAction != nil {
		at = dateOf(*lastAction).AddDate(0, 0, step.DaysAfterPreviousStep)
	} else {
		at = dateOf(dueDate).AddDate(0, 0, step.DaysAfterDue)
	}
	if earliest := graceEnd.AddDate(0, 0, 1); at.Before(earliest) {
		at = earliest
	}
	return at
}

// ValidateSteps enforces strictly increasing step numbers with the
// final flag on the last step only.
func ValidateSteps(steps []DunningStep) error {
	if len(steps) == 0 {
		return ErrInvalidStepOrder
	}
	prev := 0
	for i, step := range steps {
		if step.SequenceNo <= prev {
			return ErrInvalidStepOrder
		}
		if !step.ActionType.Valid() {
			return ErrInvalidAction
		}
		if step.IsFinal != (i == len(steps)-1) {
			return ErrInvalidStepOrder
		}
		if needsTemplate(step.ActionType) && step.NotificationTemplate == "" {
			return ErrMissingTemplate
		}
		prev = step.SequenceNo
	}
	return nil
}

func needsTemplate(action ActionType) bool {
	return action == ActionNotify || action == ActionNotifyRestrict
}
