package db

import (
	"database/sql"
	"fmt"
	stlog "log"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite       = "sqlite"
	DriverSQLiteNoCGO  = "sqlite-nocgo"
	DriverPostgres     = "postgres"
	openConversationIx = "idx_conversations_open_user"
)

// Open connects to the database selected by driver. SQLite connections are
// limited to a single writer and wait on locks instead of failing.
func Open(driver, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = cgosqlite.Open(sqliteDSN(dsn, "_busy_timeout=5000&_foreign_keys=1"))
	case DriverSQLiteNoCGO, "":
		dialector = sqlite.Open(sqliteDSN(dsn, "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"))
	case DriverPostgres:
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if driver != DriverPostgres {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Info().Str("driver", driver).Msg("Database connection established")
	return gdb, nil
}

// sqliteDSN appends the driver-specific pragmas unless the caller already
// supplied query parameters.
func sqliteDSN(dsn, pragmas string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?" + pragmas
}

// newGormLogger routes GORM's logger through zerolog at a level derived from
// the global zerolog level.
func newGormLogger() gormlogger.Interface {
	var level gormlogger.LogLevel
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel:
		level = gormlogger.Info
	case zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel:
		level = gormlogger.Warn
	case zerolog.Disabled:
		level = gormlogger.Silent
	default:
		level = gormlogger.Error
	}
	return gormlogger.New(
		stlog.New(log.Logger, "", 0),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// Migrate runs AutoMigrate for models and creates the partial unique index
// that allows a single non-closed conversation per user.
func Migrate(gdb *gorm.DB, modelsToMigrate ...any) error {
	if gdb == nil {
		return fmt.Errorf("database not initialized, call Open first")
	}
	if len(modelsToMigrate) == 0 {
		return fmt.Errorf("no models provided for migration")
	}
	if err := gdb.AutoMigrate(modelsToMigrate...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	if gdb.Migrator().HasTable("conversations") {
		stmt := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON conversations (user_id) WHERE status <> 'closed'", openConversationIx)
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", openConversationIx, err)
		}
	}

	log.Info().Int("models_migrated", len(modelsToMigrate)).Msg("Database migration completed")
	return nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
