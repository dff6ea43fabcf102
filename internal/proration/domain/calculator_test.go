package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateDailyUpgrade(t *testing.T) {
	// 31-day January period, change effective mid month.
	result, err := Calculate(Input{
		Type:             TypeUpgrade,
		Method:           MethodDaily,
		PeriodStart:      date(2024, time.January, 1),
		PeriodEnd:        date(2024, time.January, 31),
		EffectiveDate:    date(2024, time.January, 16),
		OriginalPrice:    dec("10"),
		NewPrice:         dec("20"),
		OriginalQuantity: 1,
		NewQuantity:      1,
		RoundPlaces:      2,
	})
	require.NoError(t, err)

	assert.Equal(t, 31, result.TotalDays)
	assert.Equal(t, 16, result.RemainingDays)
	assert.True(t, result.ChargeAmount.Equal(dec("5.16")), "charge = %s", result.ChargeAmount)
	assert.True(t, result.CreditAmount.IsZero())
	assert.True(t, result.NetAmount.Equal(result.ChargeAmount.Sub(result.CreditAmount)))
}

func TestCalculateIsPure(t *testing.T) {
	in := Input{
		Type:             TypeDowngrade,
		Method:           MethodDaily,
		PeriodStart:      date(2024, time.March, 1),
		PeriodEnd:        date(2024, time.March, 31),
		EffectiveDate:    date(2024, time.March, 10),
		OriginalPrice:    dec("49.99"),
		NewPrice:         dec("29.99"),
		OriginalQuantity: 3,
		NewQuantity:      3,
		RoundPlaces:      2,
	}

	first, err := Calculate(in)
	require.NoError(t, err)
	second, err := Calculate(in)
	require.NoError(t, err)

	assert.True(t, first.CreditAmount.Equal(second.CreditAmount))
	assert.True(t, first.ChargeAmount.Equal(second.ChargeAmount))
	assert.True(t, first.NetAmount.Equal(second.NetAmount))
}

func TestCalculateQuantityChange(t *testing.T) {
	base := Input{
		Method:           MethodDaily,
		PeriodStart:      date(2024, time.January, 1),
		PeriodEnd:        date(2024, time.January, 31),
		EffectiveDate:    date(2024, time.January, 1),
		OriginalPrice:    dec("10"),
		NewPrice:         dec("10"),
		OriginalQuantity: 2,
		NewQuantity:      5,
		RoundPlaces:      2,
	}

	base.Type = TypeQuantityIncrease
	result, err := Calculate(base)
	require.NoError(t, err)
	// Full period remaining, three extra seats at 10 each.
	assert.True(t, result.ChargeAmount.Equal(dec("30")), "charge = %s", result.ChargeAmount)

	base.Type = TypeQuantityDecrease
	result, err = Calculate(base)
	require.NoError(t, err)
	assert.True(t, result.CreditAmount.IsZero(), "decrease with growing quantity yields nothing")

	base.OriginalQuantity, base.NewQuantity = 5, 2
	result, err = Calculate(base)
	require.NoError(t, err)
	assert.True(t, result.CreditAmount.Equal(dec("30")))
}

func TestCalculateMonthlyFallsBackToDailyInFinalMonth(t *testing.T) {
	result, err := Calculate(Input{
		Type:             TypeMidCycleStart,
		Method:           MethodMonthly,
		PeriodStart:      date(2024, time.January, 1),
		PeriodEnd:        date(2024, time.January, 31),
		EffectiveDate:    date(2024, time.January, 16),
		OriginalPrice:    dec("31"),
		OriginalQuantity: 1,
		FrequencyMonths:  1,
		RoundPlaces:      2,
	})
	require.NoError(t, err)
	assert.True(t, result.ChargeAmount.Equal(dec("16")), "charge = %s", result.ChargeAmount)
}

func TestCalculateMonthlyWholeMonths(t *testing.T) {
	// Annual period, effective with two whole months left.
	result, err := Calculate(Input{
		Type:             TypeSuspensionCredit,
		Method:           MethodMonthly,
		PeriodStart:      date(2024, time.January, 1),
		PeriodEnd:        date(2024, time.December, 31),
		EffectiveDate:    date(2024, time.October, 15),
		OriginalPrice:    dec("120"),
		OriginalQuantity: 1,
		FrequencyMonths:  12,
		RoundPlaces:      2,
	})
	require.NoError(t, err)
	// 2/12 of 120.
	assert.True(t, result.CreditAmount.Equal(dec("20")), "credit = %s", result.CreditAmount)
}

func TestCalculateEffectiveAfterPeriodEnd(t *testing.T) {
	result, err := Calculate(Input{
		Type:             TypeEarlyTermination,
		Method:           MethodDaily,
		PeriodStart:      date(2024, time.January, 1),
		PeriodEnd:        date(2024, time.January, 31),
		EffectiveDate:    date(2024, time.February, 10),
		OriginalPrice:    dec("10"),
		OriginalQuantity: 1,
		RoundPlaces:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.RemainingDays)
	assert.True(t, result.CreditAmount.IsZero())
}

func TestCalculateValidation(t *testing.T) {
	valid := Input{
		Type:             TypeUpgrade,
		Method:           MethodDaily,
		PeriodStart:      date(2024, time.January, 1),
		PeriodEnd:        date(2024, time.January, 31),
		EffectiveDate:    date(2024, time.January, 16),
		OriginalPrice:    dec("10"),
		NewPrice:         dec("20"),
		OriginalQuantity: 1,
		NewQuantity:      1,
		RoundPlaces:      2,
	}

	in := valid
	in.PeriodEnd = in.PeriodStart
	_, err := Calculate(in)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	in = valid
	in.EffectiveDate = date(2023, time.December, 31)
	_, err = Calculate(in)
	assert.ErrorIs(t, err, ErrEffectiveBeforeStart)

	in = valid
	in.OriginalPrice = dec("-1")
	_, err = Calculate(in)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	in = valid
	in.Method = MethodPercentage
	in.InputPercentage = dec("1.5")
	_, err = Calculate(in)
	assert.ErrorIs(t, err, ErrInvalidPercentage)

	in = valid
	in.Method = MethodMonthly
	in.FrequencyMonths = 5
	_, err = Calculate(in)
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestFinalAmountsOverride(t *testing.T) {
	computed := Result{
		CreditAmount: dec("5"),
		ChargeAmount: dec("12"),
	}

	credit, charge, net, err := FinalAmounts(computed, nil, nil, "")
	require.NoError(t, err)
	assert.True(t, net.Equal(charge.Sub(credit)))

	override := dec("8")
	_, _, _, err = FinalAmounts(computed, &override, nil, "")
	assert.ErrorIs(t, err, ErrOverrideNeedsReason)

	credit, charge, net, err = FinalAmounts(computed, &override, nil, "goodwill credit")
	require.NoError(t, err)
	assert.True(t, credit.Equal(dec("8")))
	assert.True(t, charge.Equal(dec("12")))
	assert.True(t, net.Equal(charge.Sub(credit)))
}
