package migration

import (
	"strings"

	"github.com/smallbiznis/logibill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.RunMigrations {
			return nil
		}
		// The embedded scripts are postgres only.
		if strings.EqualFold(cfg.DBType, "sqlite") {
			log.Info("auto migrating sqlite schema", zap.String("db_name", cfg.DBName))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB, log)
	}),
)
