package migration

import (
	"github.com/smallbiznis/leadcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if cfg.DBType == "sqlite" {
			log.Info("applying sqlite schema")
			return ApplySQLiteSchema(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		log.Info("applying postgres migrations")
		return RunMigrations(sqlDB)
	}),
)
