// Command migrate_data copies every table from the sqlite file at DB_PATH
// into the postgres database configured by the DB_* variables.
package main

import (
	"log"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const batchSize = 500

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog := logger.New(cfg.LoggerLevel, cfg.LoggerFormat)
	defer logger.Sync(zlog)

	source, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: database.NewGormLogger(zlog, gormlogger.Warn),
	})
	if err != nil {
		zlog.Fatal("Failed to open sqlite source", zap.String("path", cfg.DBPath), zap.Error(err))
	}

	cfg.DBDriver = "postgres"
	dest, err := database.Open(cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to open postgres destination", zap.Error(err))
	}
	if err := database.Migrate(dest); err != nil {
		zlog.Fatal("Failed to migrate destination schema", zap.Error(err))
	}

	// parents before children
	steps := []struct {
		name string
		copy func() (int, error)
	}{
		{"contacts", copyTable[models.Contact](source, dest)},
		{"messages", copyTable[models.Message](source, dest)},
		{"schedules", copyTable[models.ScheduledMessage](source, dest)},
		{"recipients", copyTable[models.Recipient](source, dest)},
		{"follow-up templates", copyTable[models.FollowUpTemplate](source, dest)},
		{"follow-ups", copyTable[models.FollowUp](source, dest)},
		{"auto-reply rules", copyTable[models.AutoReplyRule](source, dest)},
		{"groups", copyTable[models.Group](source, dest)},
		{"orders", copyTable[models.Order](source, dest)},
		{"order items", copyTable[models.OrderItem](source, dest)},
		{"settings", copyTable[models.SystemSetting](source, dest)},
	}
	for _, step := range steps {
		n, err := step.copy()
		if err != nil {
			zlog.Fatal("Table migration failed", zap.String("table", step.name), zap.Error(err))
		}
		zlog.Info("Table migrated", zap.String("table", step.name), zap.Int("rows", n))
	}
	zlog.Info("Migration completed, run sync_sequences next")
}

// copyTable moves rows in batches, each batch in its own transaction.
// Associations are not followed; every table is copied on its own.
func copyTable[T any](source, dest *gorm.DB) func() (int, error) {
	return func() (int, error) {
		total := 0
		var batch []T
		err := source.Model(new(T)).FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			total += len(batch)
			return dest.Transaction(func(tx *gorm.DB) error {
				return tx.Omit(clause.Associations).Create(&batch).Error
			})
		}).Error
		return total, err
	}
}
