package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGraceAndSuspensionDates(t *testing.T) {
	// Payment failed on Feb 1 with a 7 day grace period and a 3 day
	// suspension delay.
	startedAt := time.Date(2024, time.February, 1, 14, 30, 0, 0, time.UTC)

	graceEnd := GraceEndDate(startedAt, 7)
	assert.Equal(t, date(2024, time.February, 8), graceEnd)

	// Suspension counts from the final step, not the grace window.
	finalStep := time.Date(2024, time.February, 14, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, date(2024, time.February, 17), SuspensionDate(finalStep, 3))
}

func TestProjectedFinalStepDate(t *testing.T) {
	dueDate := date(2024, time.January, 25)
	graceEnd := date(2024, time.February, 8)

	steps := []DunningStep{
		{SequenceNo: 1, DaysAfterDue: 3},
		{SequenceNo: 2, DaysAfterPreviousStep: 5},
		{SequenceNo: 3, DaysAfterPreviousStep: 7, IsFinal: true},
	}
	// Step 1 clamps to Feb 9, then +5 and +7 through the chain.
	assert.Equal(t, date(2024, time.February, 21), ProjectedFinalStepDate(steps, dueDate, graceEnd))

	late := []DunningStep{{SequenceNo: 1, DaysAfterDue: 20, IsFinal: true}}
	assert.Equal(t, date(2024, time.February, 14), ProjectedFinalStepDate(late, dueDate, graceEnd))
}

func TestInGracePeriod(t *testing.T) {
	graceEnd := date(2024, time.February, 8)

	assert.True(t, InGracePeriod(date(2024, time.February, 5), graceEnd))
	assert.True(t, InGracePeriod(date(2024, time.February, 8), graceEnd), "grace end day itself is still blocked")
	assert.True(t, InGracePeriod(time.Date(2024, time.February, 8, 23, 0, 0, 0, time.UTC), graceEnd))
	assert.False(t, InGracePeriod(date(2024, time.February, 9), graceEnd))
}

func TestStepActionDateAnchors(t *testing.T) {
	dueDate := date(2024, time.February, 1)
	graceEnd := date(2024, time.January, 20)

	dueAnchored := DunningStep{SequenceNo: 1, DaysAfterDue: 3}
	assert.Equal(t, date(2024, time.February, 4), StepActionDate(dueAnchored, dueDate, nil, graceEnd))

	lastAction := date(2024, time.February, 10)
	previousAnchored := DunningStep{SequenceNo: 2, DaysAfterDue: 3, DaysAfterPreviousStep: 5}
	assert.Equal(t, date(2024, time.February, 15), StepActionDate(previousAnchored, dueDate, &lastAction, graceEnd),
		"days_after_previous_step wins over days_after_due")

	// Without a previous action the step falls back to the due date anchor.
	assert.Equal(t, date(2024, time.February, 4), StepActionDate(previousAnchored, dueDate, nil, graceEnd))
}

func TestStepActionDateNeverInsideGrace(t *testing.T) {
	dueDate := date(2024, time.February, 1)
	graceEnd := date(2024, time.February, 8)

	early := DunningStep{SequenceNo: 1, DaysAfterDue: 1}
	assert.Equal(t, date(2024, time.February, 9), StepActionDate(early, dueDate, nil, graceEnd))
}

func TestValidateSteps(t *testing.T) {
	valid := []DunningStep{
		{SequenceNo: 1, ActionType: ActionNotify, NotificationTemplate: "dunning_reminder"},
		{SequenceNo: 2, ActionType: ActionNotifyRestrict, NotificationTemplate: "dunning_warning"},
		{SequenceNo: 3, ActionType: ActionSuspend, IsFinal: true},
	}
	assert.NoError(t, ValidateSteps(valid))

	assert.ErrorIs(t, ValidateSteps(nil), ErrInvalidStepOrder)

	outOfOrder := []DunningStep{
		{SequenceNo: 2, ActionType: ActionNotify, NotificationTemplate: "a"},
		{SequenceNo: 1, ActionType: ActionSuspend, IsFinal: true},
	}
	assert.ErrorIs(t, ValidateSteps(outOfOrder), ErrInvalidStepOrder)

	finalInMiddle := []DunningStep{
		{SequenceNo: 1, ActionType: ActionNotify, NotificationTemplate: "a", IsFinal: true},
		{SequenceNo: 2, ActionType: ActionSuspend},
	}
	assert.ErrorIs(t, ValidateSteps(finalInMiddle), ErrInvalidStepOrder)

	missingTemplate := []DunningStep{
		{SequenceNo: 1, ActionType: ActionNotify, IsFinal: true},
	}
	assert.ErrorIs(t, ValidateSteps(missingTemplate), ErrMissingTemplate)

	badAction := []DunningStep{
		{SequenceNo: 1, ActionType: ActionType("delete_customer"), IsFinal: true},
	}
	assert.ErrorIs(t, ValidateSteps(badAction), ErrInvalidAction)
}
