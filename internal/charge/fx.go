package charge

import (
	"github.com/rentfolio/rentfolio/internal/charge/repository"
	"github.com/rentfolio/rentfolio/internal/charge/service"
	"go.uber.org/fx"
)

var Module = fx.Module("charge.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
