package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"payledger/internal/config"
	"payledger/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitMySQL opens the MySQL pool and migrates the ledger schema.
//
// TranslateError stays off: gorm.ErrDuplicatedKey drops the index name, and
// the repository needs it to tell an idempotency key clash from a primary
// key clash.
func InitMySQL(cfg *config.MySQLConfig, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("mysql connected", "component", "database", "host", cfg.Host, "database", cfg.Database)
	return db, nil
}

// Migrate creates or updates every ledger table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.OutboxMessage{},
		&model.DailySummary{},
		&model.ProcessedEvent{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// NewGormLogger routes gorm's SQL log through slog at warn level, so only
// slow queries and errors are reported.
func NewGormLogger(log *slog.Logger) logger.Interface {
	w := slog.NewLogLogger(log.With("component", "gorm").Handler(), slog.LevelWarn)
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// IsolationLevel maps the configured name onto a sql isolation level.
// Unknown names fall back to read committed.
func IsolationLevel(name string) sql.IsolationLevel {
	switch name {
	case "repeatable_read":
		return sql.LevelRepeatableRead
	case "serializable":
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}
