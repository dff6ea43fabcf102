package domain

import (
	"context"
	"errors"
	"net"
	"strings"
)

// declineCodes maps the gateway decline vocabulary onto the engine's
// failure categories. Unknown codes fall through to card_declined
// because a decline is still a decline even when the code is new.
var declineCodes = map[string]FailureReason{
	"insufficient_funds":     ReasonInsufficientFunds,
	"card_declined":          ReasonCardDeclined,
	"do_not_honor":           ReasonCardDeclined,
	"generic_decline":        ReasonCardDeclined,
	"card_expired":           ReasonCardExpired,
	"expired_card":           ReasonCardExpired,
	"invalid_payment_method": ReasonInvalidMethod,
	"invalid_account":        ReasonInvalidMethod,
	"processing_error":       ReasonGatewayError,
}

func ClassifyDecline(code string) FailureReason {
	if reason, ok := declineCodes[strings.ToLower(code)]; ok {
		return reason
	}
	return ReasonCardDeclined
}

// ClassifyTransportError categorizes errors from the gateway call
// itself, as opposed to declines carried in the response.
func ClassifyTransportError(err error) FailureReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetworkError
	}
	return ReasonGatewayError
}
