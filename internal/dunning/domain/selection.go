package domain

import (
	subscriptiondomain "github.com/smallbiznis/recurra/internal/subscription/domain"
)

// SelectSequence picks the most specific active sequence for a
// subscription. Every non-empty filter on a sequence must match; the
// candidate matching the most filters wins, and the default sequence
// catches whatever nothing else claims.
func SelectSequence(sequences []DunningSequence, sub *subscriptiondomain.Subscription) (*DunningSequence, error) {
	var best *DunningSequence
	bestScore := -1
	var fallback *DunningSequence

	for i := range sequences {
		seq := &sequences[i]
		if !seq.Active {
			continue
		}
		if seq.IsDefault && fallback == nil {
			fallback = seq
		}

		score, ok := matchScore(seq, sub)
		if !ok || score == 0 {
			continue
		}
		if score > bestScore {
			best = seq
			bestScore = score
		}
	}

	if best != nil {
		return best, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrNoApplicableSequence
}

func matchScore(seq *DunningSequence, sub *subscriptiondomain.Subscription) (int, bool) {
	score := 0
	if seq.CustomerCategory != "" {
		if seq.CustomerCategory != sub.CustomerCategory {
			return 0, false
		}
		score++
	}
	if seq.ProductCategory != "" {
		if seq.ProductCategory != sub.ProductCategory {
			return 0, false
		}
		score++
	}
	if seq.SubscriptionType != "" {
		if seq.SubscriptionType != sub.SubscriptionType {
			return 0, false
		}
		score++
	}
	return score, true
}
