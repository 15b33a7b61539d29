package plan

import (
	"go.uber.org/fx"

	"github.com/bulc-app/license-server/internal/plan/repository"
	"github.com/bulc-app/license-server/internal/plan/service"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
