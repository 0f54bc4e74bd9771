package splitconfig

import (
	"github.com/rentfolio/rentfolio/internal/splitconfig/repository"
	"github.com/rentfolio/rentfolio/internal/splitconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("splitconfig.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
