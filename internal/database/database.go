package database

import (
	"fmt"
	"time"

	"github.com/wnt/farmdash/internal/config"
	"github.com/wnt/farmdash/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the postgres database described by cfg and migrates it
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("failed to connect to database: no database name")
	}

	db, err := Open(postgres.Open(cfg.DSN()))
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Open opens a database with any gorm dialector and migrates the schema
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.PositionSnapshot{},
		&models.ActionRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Latest-snapshot lookups filter by account and position and sort by build time
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_position_snapshots_account_position_built ON position_snapshots(account_id, position_id, built_at)").Error; err != nil {
		return fmt.Errorf("failed to create snapshot index: %w", err)
	}

	return nil
}
