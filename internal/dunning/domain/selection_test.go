package domain

import (
	"testing"

	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSequencePrefersMostSpecific(t *testing.T) {
	sub := &subscriptiondomain.Subscription{
		CustomerCategory: "enterprise",
		ProductCategory:  "saas",
		SubscriptionType: "committed",
	}

	sequences := []DunningSequence{
		{Name: "default", IsDefault: true, Active: true},
		{Name: "enterprise", Active: true, CustomerCategory: "enterprise"},
		{Name: "enterprise-saas", Active: true, CustomerCategory: "enterprise", ProductCategory: "saas"},
	}

	selected, err := SelectSequence(sequences, sub)
	require.NoError(t, err)
	assert.Equal(t, "enterprise-saas", selected.Name)
}

func TestSelectSequenceMismatchedFilterDisqualifies(t *testing.T) {
	sub := &subscriptiondomain.Subscription{CustomerCategory: "smb"}

	sequences := []DunningSequence{
		{Name: "default", IsDefault: true, Active: true},
		{Name: "enterprise", Active: true, CustomerCategory: "enterprise"},
	}

	selected, err := SelectSequence(sequences, sub)
	require.NoError(t, err)
	assert.Equal(t, "default", selected.Name)
}

func TestSelectSequenceSkipsInactive(t *testing.T) {
	sub := &subscriptiondomain.Subscription{CustomerCategory: "enterprise"}

	sequences := []DunningSequence{
		{Name: "enterprise", Active: false, CustomerCategory: "enterprise"},
		{Name: "default", IsDefault: true, Active: true},
	}

	selected, err := SelectSequence(sequences, sub)
	require.NoError(t, err)
	assert.Equal(t, "default", selected.Name)
}

func TestSelectSequenceNoMatch(t *testing.T) {
	sub := &subscriptiondomain.Subscription{CustomerCategory: "smb"}

	_, err := SelectSequence([]DunningSequence{
		{Name: "enterprise", Active: true, CustomerCategory: "enterprise"},
	}, sub)
	assert.ErrorIs(t, err, ErrNoApplicableSequence)
}
