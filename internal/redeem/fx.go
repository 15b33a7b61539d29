package redeem

import (
	"go.uber.org/fx"

	"github.com/bulc-app/license-server/internal/redeem/repository"
	"github.com/bulc-app/license-server/internal/redeem/service"
)

var Module = fx.Module("redeem.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(service.NewAdmin),
)
