package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/config"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
	productdomain "github.com/bulc-app/license-server/internal/product/domain"
	redeemdomain "github.com/bulc-app/license-server/internal/redeem/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The SQL migrations target postgres. sqlite deployments (local
		// development) fall back to schema sync from the models.
		if cfg.DBType == "sqlite" {
			return conn.AutoMigrate(
				&productdomain.Product{},
				&plandomain.Plan{},
				&licensedomain.License{},
				&licensedomain.Activation{},
				&redeemdomain.Campaign{},
				&redeemdomain.Code{},
				&redeemdomain.UserCounter{},
				&redeemdomain.Redemption{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
