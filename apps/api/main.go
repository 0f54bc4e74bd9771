package main

import (
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
	"github.com/rentfolio/rentfolio/internal/server"
	"github.com/rentfolio/rentfolio/internal/splitconfig"
	"github.com/rentfolio/rentfolio/internal/usage"
	"github.com/rentfolio/rentfolio/pkg/db"
)

// API deployment: serves the split and billing HTTP surface. Periodic
// work (cycle close, charge dispatch) runs in apps/scheduler, and
// migrations run from the monolith or a release step.
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

		server.Module,
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
