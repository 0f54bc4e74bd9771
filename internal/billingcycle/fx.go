package billingcycle

import (
	"github.com/rentfolio/rentfolio/internal/billingcycle/repository"
	"github.com/rentfolio/rentfolio/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
