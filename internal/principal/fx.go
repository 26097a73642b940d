package principal

import (
	"github.com/smallbiznis/quotaguard/internal/principal/repository"
	"github.com/smallbiznis/quotaguard/internal/principal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("principal.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
