// Command sync_sequences realigns PostgreSQL id sequences after rows were
// imported with explicit ids.
package main

import (
	"log"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/database"
	"whatsapp-automation/internal/models"
	"whatsapp-automation/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog := logger.New(cfg.LoggerLevel, cfg.LoggerFormat)
	defer logger.Sync(zlog)

	if cfg.DBDriver != "postgres" {
		zlog.Info("Sequences only exist on postgres, nothing to do", zap.String("driver", cfg.DBDriver))
		return
	}
	db, err := database.Open(cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to open database", zap.Error(err))
	}

	failed := 0
	for _, table := range tableNames(db) {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			zlog.Error("Sequence sync failed", zap.String("table", table), zap.Error(err))
			failed++
			continue
		}
		zlog.Info("Sequence synced", zap.String("table", table))
	}
	if failed > 0 {
		zlog.Fatal("Some sequences were not synced", zap.Int("failed", failed))
	}
}

// tableNames lists the tables with a serial id column.
func tableNames(db *gorm.DB) []string {
	serial := []interface{}{
		&models.Contact{},
		&models.Message{},
		&models.ScheduledMessage{},
		&models.Recipient{},
		&models.FollowUpTemplate{},
		&models.FollowUp{},
		&models.AutoReplyRule{},
		&models.Group{},
		&models.OrderItem{},
	}
	names := make([]string, 0, len(serial))
	for _, m := range serial {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			continue
		}
		names = append(names, stmt.Schema.Table)
	}
	return names
}
