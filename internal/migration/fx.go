package migration

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/config"
	"github.com/rentfolio/rentfolio/internal/seed"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// SQLite and MySQL installs are for local evaluation; gorm's
			// AutoMigrate covers them without dialect-specific SQL.
			if err := conn.AutoMigrate(
				&splitconfigdomain.Configuration{},
				&splitconfigdomain.Receiver{},
				&splitconfigdomain.Rule{},
				&billingcycledomain.BillingCycle{},
				&chargedomain.Charge{},
				&usagedomain.UsageEvent{},
				&auditdomain.Entry{},
			); err != nil {
				return err
			}
		}

		if cfg.SeedDemo {
			return seed.EnsureDemoSplitConfig(conn, node)
		}
		return nil
	}),
)
