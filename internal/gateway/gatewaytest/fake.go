// Package gatewaytest provides a scripted gateway for tests.
package gatewaytest

import (
	"context"
	"sync"

	gatewaydomain "github.com/smallbiznis/recurra/internal/gateway/domain"
)

// Outcome is one scripted gateway response.
type Outcome struct {
	Result gatewaydomain.ChargeResult
	Err    error
}

// FakeGateway replays scripted outcomes in order and records every
// request it saw. The last outcome repeats once the script runs out.
type FakeGateway struct {
	mu       sync.Mutex
	script   []Outcome
	Requests []gatewaydomain.ChargeRequest
}

func NewFake(script ...Outcome) *FakeGateway {
	return &FakeGateway{script: script}
}

func (f *FakeGateway) Charge(ctx context.Context, req gatewaydomain.ChargeRequest) (gatewaydomain.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if len(f.script) == 0 {
		return gatewaydomain.ChargeResult{Success: true, TransactionID: "fake-txn"}, nil
	}
	next := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next.Result, next.Err
}

func (f *FakeGateway) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}
