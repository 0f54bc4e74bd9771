package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/rentfolio/rentfolio/internal/audit"
	"github.com/rentfolio/rentfolio/internal/billingcycle"
	"github.com/rentfolio/rentfolio/internal/charge"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/config"
	"github.com/rentfolio/rentfolio/internal/gateway"
	"github.com/rentfolio/rentfolio/internal/notifier"
	"github.com/rentfolio/rentfolio/internal/observability"
	"github.com/rentfolio/rentfolio/internal/ratelimit"
	"github.com/rentfolio/rentfolio/internal/scheduler"
	"github.com/rentfolio/rentfolio/internal/splitconfig"
	"github.com/rentfolio/rentfolio/internal/usage"
	"github.com/rentfolio/rentfolio/pkg/db"
)

// Scheduler deployment: closes due billing cycles, dispatches pending
// charges, and marks overdue ones. No HTTP server.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		audit.Module,
		splitconfig.Module,
		usage.Module,
		billingcycle.Module,
		charge.Module,
		gateway.Module,
		notifier.Module,
		ratelimit.Module,

		fx.Provide(scheduler.ProvideConfig),
		fx.Provide(scheduler.New),
		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// StartScheduler runs the loop unconditionally; this deployment exists
// to run it, unlike the monolith where cloud mode turns it off.
func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
