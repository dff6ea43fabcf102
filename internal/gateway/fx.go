package gateway

import (
	"context"

	"github.com/smallbiznis/recurra/internal/gateway/adapters"
	gatewaydomain "github.com/smallbiznis/recurra/internal/gateway/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(adapters.NewRegistry),
	fx.Provide(NewRouting),
)

// RoutingGateway routes each charge through the adapter registered for
// the request's provider, falling back to the first registered one.
type RoutingGateway struct {
	reg *adapters.Registry
}

func NewRouting(reg *adapters.Registry) gatewaydomain.Gateway {
	return &RoutingGateway{reg: reg}
}

func (g *RoutingGateway) Charge(ctx context.Context, req gatewaydomain.ChargeRequest) (gatewaydomain.ChargeResult, error) {
	if req.Amount <= 0 || req.Currency == "" {
		return gatewaydomain.ChargeResult{}, gatewaydomain.ErrInvalidCharge
	}
	gw, err := g.reg.Resolve(req.Provider)
	if err != nil {
		return gatewaydomain.ChargeResult{}, err
	}
	return gw.Charge(ctx, req)
}
