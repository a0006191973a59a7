package db

import (
	"errors"
	"path/filepath"
	"testing"

	"whatsapp-broker/internal/models"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(DriverSQLiteNoCGO, filepath.Join(t.TempDir(), "broker.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })
	if err := Migrate(gdb, models.All()...); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return gdb
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn"); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
	if _, err := Open(DriverSQLiteNoCGO, ""); err == nil {
		t.Fatal("expected an error for an empty DSN")
	}
}

func TestMigrateRequiresModels(t *testing.T) {
	if err := Migrate(nil); err == nil {
		t.Fatal("expected an error for a nil database")
	}
	gdb, err := Open(DriverSQLiteNoCGO, filepath.Join(t.TempDir(), "empty.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(gdb)
	if err := Migrate(gdb); err == nil {
		t.Fatal("expected an error when no models are given")
	}
}

func TestOpenConversationIndex(t *testing.T) {
	gdb := openTestDB(t)

	user := models.User{WaID: "15551234567", PhoneNumber: "15551234567", Name: "Ann"}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	first := models.Conversation{UserID: user.ID, PhoneNumber: user.PhoneNumber, Status: models.ConversationActive}
	if err := gdb.Create(&first).Error; err != nil {
		t.Fatalf("create first conversation: %v", err)
	}

	second := models.Conversation{UserID: user.ID, PhoneNumber: user.PhoneNumber, Status: models.ConversationArchived}
	err := gdb.Create(&second).Error
	if err == nil {
		t.Fatal("expected the second non-closed conversation to be rejected")
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Logf("driver returned untranslated error: %v", err)
	}

	if err := gdb.Model(&first).Update("status", models.ConversationClosed).Error; err != nil {
		t.Fatalf("close first conversation: %v", err)
	}
	third := models.Conversation{UserID: user.ID, PhoneNumber: user.PhoneNumber, Status: models.ConversationActive}
	if err := gdb.Create(&third).Error; err != nil {
		t.Fatalf("expected a new active conversation after closing, got %v", err)
	}
	closed := models.Conversation{UserID: user.ID, PhoneNumber: user.PhoneNumber, Status: models.ConversationClosed}
	if err := gdb.Create(&closed).Error; err != nil {
		t.Fatalf("closed conversations are unconstrained, got %v", err)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	gdb := openTestDB(t)
	if err := Migrate(gdb, models.All()...); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestGormLoggerBuilds(t *testing.T) {
	l := newGormLogger()
	if l == nil {
		t.Fatal("expected a gorm logger")
	}
	if l.LogMode(gormlogger.Silent) == nil {
		t.Fatal("LogMode must return a logger")
	}
}
