package product

import (
	"go.uber.org/fx"

	"github.com/bulc-app/license-server/internal/product/repository"
	"github.com/bulc-app/license-server/internal/product/service"
)

var Module = fx.Module("product.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
