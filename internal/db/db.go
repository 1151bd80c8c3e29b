package db

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/model"
)

// Models lists every table the service owns, in migration order.
var Models = []any{
	&model.Profile{},
	&model.Settings{},
	&model.Monitor{},
	&model.Slot{},
	&model.PushSubscription{},
}

// Open connects to the configured database without migrating.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		dialector = postgres.Open(cfg.DSN)
	}

	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to database", goerr.V("driver", cfg.Driver))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// Init opens the database and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cfg.Driver, log); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB, driver string, log *zap.Logger) error {
	log.Info("running database migrations", zap.String("driver", driver))
	if err := db.AutoMigrate(Models...); err != nil {
		return goerr.Wrap(err, "automigrate failed")
	}

	if driver == "postgres" {
		if err := applyPostgresIndexes(db); err != nil {
			log.Warn("failed to apply partial indexes, continuing without them", zap.Error(err))
		}
	}

	log.Info("database initialization complete")
	return nil
}

func applyPostgresIndexes(db *gorm.DB) error {
	ddls := []string{
		// recovery scans only active monitors
		"CREATE INDEX IF NOT EXISTS idx_monitors_active ON monitors (created_at) WHERE status = 'active';",
		// slots still waiting for delivery
		"CREATE INDEX IF NOT EXISTS idx_slots_pending_notify ON slots (monitor_id) WHERE notified = false;",
		// expiry sweep
		"CREATE INDEX IF NOT EXISTS idx_slots_available_date ON slots (slot_date) WHERE status = 'available';",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return goerr.Wrap(err, "DDL failed", goerr.V("ddl", ddl))
		}
	}
	return nil
}
