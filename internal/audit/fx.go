package audit

import (
	"github.com/rentfolio/rentfolio/internal/audit/repository"
	"github.com/rentfolio/rentfolio/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
