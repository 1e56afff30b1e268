package database

import (
	"fmt"
	"time"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the application database selected by cfg.DBDriver.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.PostgresDSN())
	default:
		dialector = sqlite.Open(cfg.DBPath + "?_foreign_keys=on&_busy_timeout=5000")
	}

	level := logger.Warn
	if cfg.IsDevelopment() {
		level = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(log, level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdle)
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpen)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Info("Connected to database", zap.String("driver", cfg.DBDriver))
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Contact{},
		&models.Message{},
		&models.ScheduledMessage{},
		&models.Recipient{},
		&models.FollowUpTemplate{},
		&models.FollowUp{},
		&models.AutoReplyRule{},
		&models.Group{},
		&models.Order{},
		&models.OrderItem{},
		&models.SystemSetting{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Setting keys mirrored between the environment and the system_settings table.
const (
	SettingAdminPhone = "ADMIN_WHATSAPP_NUMBER"
	SettingCurrency   = "CURRENCY"
)

// SyncSettings lets values stored in the database override the environment,
// and seeds the table with environment values that are not stored yet.
func SyncSettings(db *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	settings := []struct {
		Key   string
		Value *string
	}{
		{SettingAdminPhone, &cfg.AdminPhone},
		{SettingCurrency, &cfg.Currency},
	}

	for _, s := range settings {
		var setting models.SystemSetting
		err := db.Where("key = ?", s.Key).Limit(1).Find(&setting).Error
		if err != nil {
			return fmt.Errorf("load setting %s: %w", s.Key, err)
		}
		if setting.Key != "" {
			if setting.Value != "" {
				*s.Value = setting.Value
			}
			continue
		}
		if *s.Value != "" {
			if err := db.Create(&models.SystemSetting{Key: s.Key, Value: *s.Value}).Error; err != nil {
				return fmt.Errorf("seed setting %s: %w", s.Key, err)
			}
		}
	}
	log.Info("System settings synchronized from database")
	return nil
}
