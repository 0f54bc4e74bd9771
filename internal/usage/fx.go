package usage

import (
	"github.com/rentfolio/rentfolio/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(service.NewService),
)
