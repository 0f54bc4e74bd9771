package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/rentfolio/rentfolio/internal/audit"
	"github.com/rentfolio/rentfolio/internal/billingcycle"
	"github.com/rentfolio/rentfolio/internal/charge"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/cloudmetrics"
	"github.com/rentfolio/rentfolio/internal/config"
	"github.com/rentfolio/rentfolio/internal/gateway"
	"github.com/rentfolio/rentfolio/internal/migration"
	"github.com/rentfolio/rentfolio/internal/notifier"
	"github.com/rentfolio/rentfolio/internal/observability"
	"github.com/rentfolio/rentfolio/internal/ratelimit"
	"github.com/rentfolio/rentfolio/internal/scheduler"
	"github.com/rentfolio/rentfolio/internal/server"
	"github.com/rentfolio/rentfolio/internal/splitconfig"
	"github.com/rentfolio/rentfolio/internal/usage"
	"github.com/rentfolio/rentfolio/pkg/db"
)

// The monolith: HTTP API, embedded scheduler, and startup migrations in
// one process. Cloud installations split these into apps/api and
// apps/scheduler instead.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		cloudmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		splitconfig.Module,
		usage.Module,
		billingcycle.Module,
		charge.Module,
		gateway.Module,
		notifier.Module,
		ratelimit.Module,

		server.Module,
		scheduler.Module,
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
