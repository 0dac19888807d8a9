package migration

import (
	"strings"

	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBAutoMigrate {
		log.Info("schema migration disabled")
		return nil
	}

	if strings.EqualFold(strings.TrimSpace(cfg.DBType), db.TypePostgres) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("schema migrations applied", zap.String("source", "embedded"))
		return nil
	}

	if err := AutoMigrate(conn); err != nil {
		return err
	}
	log.Info("schema migrations applied", zap.String("source", "gorm"), zap.String("type", cfg.DBType))
	return nil
}
