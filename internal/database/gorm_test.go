package database

import (
	"testing"

	"whatsapp-automation/internal/config"
	"whatsapp-automation/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:settings_test?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSyncSettings(t *testing.T) {
	db := openMemory(t)
	log := zap.NewNop()

	cfg := &config.Config{AdminPhone: "22670000000", Currency: "FCFA"}
	if err := SyncSettings(db, cfg, log); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var count int64
	db.Model(&models.SystemSetting{}).Count(&count)
	if count != 2 {
		t.Fatalf("seeded %d settings, want 2", count)
	}

	// A value edited in the database wins over the environment.
	db.Model(&models.SystemSetting{}).Where("key = ?", SettingAdminPhone).Update("value", "22671111111")
	cfg2 := &config.Config{AdminPhone: "22670000000", Currency: "EUR"}
	if err := SyncSettings(db, cfg2, log); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if cfg2.AdminPhone != "22671111111" {
		t.Fatalf("admin phone = %q", cfg2.AdminPhone)
	}
	if cfg2.Currency != "FCFA" {
		t.Fatalf("currency = %q", cfg2.Currency)
	}
}

func TestMigrateColumnNames(t *testing.T) {
	db := openMemory(t)

	cases := []struct {
		model  interface{}
		column string
	}{
		{&models.Contact{}, "jid"},
		{&models.Message{}, "contact_jid"},
		{&models.Group{}, "jid"},
		{&models.FollowUpTemplate{}, "trigger_event"},
	}
	for _, c := range cases {
		if !db.Migrator().HasColumn(c.model, c.column) {
			t.Fatalf("%T has no column %q", c.model, c.column)
		}
	}
	if db.Migrator().HasColumn(&models.Contact{}, "j_id") {
		t.Fatalf("contacts table still carries j_id")
	}
}
