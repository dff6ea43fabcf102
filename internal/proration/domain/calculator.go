package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Input feeds one proration computation. Day math is inclusive on
// both ends, so a January 1..31 period is 31 days.
type Input struct {
	Type          Type
	Method        Method
	PeriodStart   time.Time
	PeriodEnd     time.Time
	EffectiveDate time.Time

	OriginalPrice    decimal.Decimal
	NewPrice         decimal.Decimal
	OriginalQuantity int
	NewQuantity      int

	// FrequencyMonths is the subscription interval length used by the
	// monthly method (1, 3, 6 or 12).
	FrequencyMonths int

	// InputPercentage is consumed only by MethodPercentage, as a
	// fraction in [0, 1].
	InputPercentage decimal.Decimal

	// RoundPlaces is the currency's minor unit decimals. Negative
	// disables rounding.
	RoundPlaces int32
}

type Result struct {
	Percentage    decimal.Decimal
	CreditAmount  decimal.Decimal
	ChargeAmount  decimal.Decimal
	NetAmount     decimal.Decimal
	TotalDays     int
	RemainingDays int
}

var one = decimal.NewFromInt(1)

// Calculate derives credit/charge amounts for a mid-cycle change.
// Pure; identical inputs always produce identical outputs.
func Calculate(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	totalDays := daysInclusive(in.PeriodStart, in.PeriodEnd)
	remainingDays := 0
	if !dateOf(in.EffectiveDate).After(dateOf(in.PeriodEnd)) {
		remainingDays = daysInclusive(in.EffectiveDate, in.PeriodEnd)
	}

	pct, err := percentage(in, totalDays, remainingDays)
	if err != nil {
		return Result{}, err
	}

	credit, charge := amounts(in, pct)
	if in.RoundPlaces >= 0 {
		credit = credit.Round(in.RoundPlaces)
		charge = charge.Round(in.RoundPlaces)
	}

	return Result{
		Percentage:    pct,
		CreditAmount:  credit,
		ChargeAmount:  charge,
		NetAmount:     charge.Sub(credit),
		TotalDays:     totalDays,
		RemainingDays: remainingDays,
	}, nil
}

// FinalAmounts applies an operator override on top of a computed
// result. Net is always derived from the final amounts.
func FinalAmounts(computed Result, overrideCredit, overrideCharge *decimal.Decimal, reason string) (credit, charge, net decimal.Decimal, err error) {
	credit = computed.CreditAmount
	charge = computed.ChargeAmount
	if overrideCredit != nil || overrideCharge != nil {
		if reason == "" {
			return decimal.Zero, decimal.Zero, decimal.Zero, ErrOverrideNeedsReason
		}
		if overrideCredit != nil {
			credit = *overrideCredit
		}
		if overrideCharge != nil {
			charge = *overrideCharge
		}
	}
	return credit, charge, charge.Sub(credit), nil
}

func validate(in Input) error {
	if !dateOf(in.PeriodEnd).After(dateOf(in.PeriodStart)) {
		return ErrInvalidPeriod
	}
	if dateOf(in.EffectiveDate).Before(dateOf(in.PeriodStart)) {
		return ErrEffectiveBeforeStart
	}
	if in.OriginalPrice.IsNegative() || in.NewPrice.IsNegative() {
		return ErrInvalidPrice
	}
	if in.OriginalQuantity < 0 || in.NewQuantity < 0 {
		return ErrInvalidQuantity
	}
	switch in.Type {
	case TypeUpgrade, TypeDowngrade, TypeQuantityIncrease, TypeQuantityDecrease,
		TypeMidCycleStart, TypeEarlyTermination, TypeSuspensionCredit, TypeReactivationCharge:
	default:
		return ErrUnknownType
	}
	switch in.Method {
	case MethodDaily, MethodFixed:
	case MethodMonthly:
		switch in.FrequencyMonths {
		case 1, 3, 6, 12:
		default:
			return ErrInvalidFrequency
		}
	case MethodPercentage:
		if in.InputPercentage.IsNegative() || in.InputPercentage.GreaterThan(one) {
			return ErrInvalidPercentage
		}
	default:
		return ErrUnknownMethod
	}
	return nil
}

func percentage(in Input, totalDays, remainingDays int) (decimal.Decimal, error) {
	switch in.Method {
	case MethodDaily:
		return dailyPercentage(totalDays, remainingDays), nil
	case MethodMonthly:
		// Inside the final month there is no whole month left, so
		// month granularity degenerates to days.
		if sameMonth(in.EffectiveDate, in.PeriodEnd) {
			return dailyPercentage(totalDays, remainingDays), nil
		}
		months := wholeMonthsBetween(in.EffectiveDate, in.PeriodEnd)
		if months < 0 {
			months = 0
		}
		return decimal.NewFromInt(int64(months)).Div(decimal.NewFromInt(int64(in.FrequencyMonths))), nil
	case MethodPercentage:
		return in.InputPercentage, nil
	case MethodFixed:
		return one, nil
	}
	return decimal.Zero, ErrUnknownMethod
}

func amounts(in Input, pct decimal.Decimal) (credit, charge decimal.Decimal) {
	oldPrice := in.OriginalPrice
	newPrice := in.NewPrice
	oldQty := decimal.NewFromInt(int64(in.OriginalQuantity))
	newQty := decimal.NewFromInt(int64(in.NewQuantity))
	credit = decimal.Zero
	charge = decimal.Zero

	switch in.Type {
	case TypeUpgrade:
		diff := newPrice.Sub(oldPrice)
		if diff.IsPositive() {
			charge = diff.Mul(pct).Mul(oldQty)
		}
	case TypeDowngrade:
		diff := oldPrice.Sub(newPrice)
		if diff.IsPositive() {
			credit = diff.Mul(pct).Mul(oldQty)
		}
	case TypeQuantityIncrease:
		delta := newQty.Sub(oldQty)
		if delta.IsPositive() {
			charge = oldPrice.Mul(delta).Mul(pct)
		}
	case TypeQuantityDecrease:
		delta := oldQty.Sub(newQty)
		if delta.IsPositive() {
			credit = oldPrice.Mul(delta).Mul(pct)
		}
	case TypeMidCycleStart, TypeReactivationCharge:
		charge = oldPrice.Mul(pct).Mul(oldQty)
	case TypeEarlyTermination, TypeSuspensionCredit:
		credit = oldPrice.Mul(pct).Mul(oldQty)
	}
	return credit, charge
}

func dailyPercentage(totalDays, remainingDays int) decimal.Decimal {
	if totalDays <= 0 || remainingDays <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(remainingDays)).Div(decimal.NewFromInt(int64(totalDays)))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysInclusive(start, end time.Time) int {
	return int(dateOf(end).Sub(dateOf(start)).Hours()/24) + 1
}

func sameMonth(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.Month() == bu.Month()
}

func wholeMonthsBetween(from, to time.Time) int {
	fu, tu := from.UTC(), to.UTC()
	return (tu.Year()-fu.Year())*12 + int(tu.Month()) - int(fu.Month())
}
