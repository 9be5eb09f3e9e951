package psql

import (
	"context"
	"fmt"

	"physio/physio/config"
	"physio/physio/sources/psql/models"
	"physio/physio/utils/logging"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	DB *gorm.DB
}

func NewDatabase(ctx context.Context, cfg config.Config) (*Database, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)
	logging.AppLogger.Info("connecting to database",
		zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))

	return Open(ctx, postgres.Open(connStr))
}

// Open connects through any gorm dialector and migrates the schema.
func Open(ctx context.Context, dialector gorm.Dialector) (*Database, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		return nil, err
	}
	return &Database{DB: db}, nil
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).
		AutoMigrate(
			&models.User{},
			&models.PatientProfile{},
			&models.Condition{},
			&models.Medication{},
			&models.Exercise{},
			&models.Conversation{},
			&models.Message{},
		)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return nil
}

// Ping reports whether the underlying connection pool is reachable.
func (db *Database) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *Database) Close() {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
