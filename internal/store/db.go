package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds database connection configuration.
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int

	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime sets the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// LogLevel sets the GORM logger level.
	LogLevel logger.LogLevel
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		LogLevel:        logger.Warn,
	}
}

// Connect establishes a connection to the PostgreSQL database and returns a
// configured GORM DB instance.
func Connect(cfg *Config) (*gorm.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: DATABASE_URL is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: failed to get underlying DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Migrate runs auto-migration for all models and creates the indexes the
// sweep and lookup queries depend on.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Bill{},
		&SectionItem{},
		&BillToBill{},
		&SectionToSection{},
		&CurrencyEpoch{},
	); err != nil {
		return fmt.Errorf("store: auto-migration failed: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_bill_to_bills_currency
		ON bill_to_bills (currency_id)
	`).Error; err != nil {
		return fmt.Errorf("store: failed to create currency index on bill_to_bills: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_section_to_sections_currency
		ON section_to_sections (currency_id)
	`).Error; err != nil {
		return fmt.Errorf("store: failed to create currency index on section_to_sections: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_section_to_sections_bill_pair
		ON section_to_sections (bill_id, bill_to_id)
	`).Error; err != nil {
		return fmt.Errorf("store: failed to create bill-pair index on section_to_sections: %w", err)
	}

	return nil
}

// Close closes the database connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
