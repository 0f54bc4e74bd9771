package gateway

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type logGateway struct {
	log *zap.Logger
}

type LogGatewayParam struct {
	fx.In

	Log *zap.Logger
}

// NewLogGateway returns a gateway that only logs dispatches. It stands
// in until a real provider client is wired; the fabricated reference
// still exercises the post-dispatch immutability rules.
func NewLogGateway(p LogGatewayParam) Gateway {
	return &logGateway{log: p.Log.Named("gateway.log")}
}

func (g *logGateway) Dispatch(ctx context.Context, req DispatchRequest) (string, error) {
	ref := "log-" + ulid.Make().String()
	g.log.Info("charge dispatched",
		zap.String("customer_id", req.CustomerID),
		zap.Int64("amount", req.Amount),
		zap.String("description", req.Description),
		zap.String("gateway_ref", ref),
	)
	return ref, nil
}
