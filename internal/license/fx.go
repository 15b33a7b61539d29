package license

import (
	"go.uber.org/fx"

	"github.com/bulc-app/license-server/internal/license/repository"
	"github.com/bulc-app/license-server/internal/license/service"
)

var Module = fx.Module("license.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
