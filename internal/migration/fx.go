package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if conn.Dialector.Name() == "mysql" {
			log.Warn("automatic migrations skipped for mysql; apply the schema out of band")
			return nil
		}
		return Apply(conn)
	}),
)
