// internal/database/connection.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	// Connect to database
	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithField("driver", cfg.Driver).Info("Database connection established successfully")
	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

type index struct {
	stmt     string
	required bool
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.User{},
		&models.LicensePlan{},
		&models.License{},
		&models.Device{},
		&models.Transaction{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []index{
		// One active license per user and plan. The license service relies on
		// this to close the race between its duplicate check and the insert.
		{
			stmt:     "CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_one_active_per_user_plan ON licenses(user_id, plan_id) WHERE status = 'active' AND deleted_at IS NULL",
			required: true,
		},
		{stmt: "CREATE UNIQUE INDEX IF NOT EXISTS idx_licenses_license_key ON licenses(license_key)", required: true},

		// License indexes
		{stmt: "CREATE INDEX IF NOT EXISTS idx_licenses_status_expiration ON licenses(status, expiration_date)"},
		{stmt: "CREATE INDEX IF NOT EXISTS idx_licenses_assigned_by ON licenses(assigned_by_id, created_at DESC)"},
		{stmt: "CREATE INDEX IF NOT EXISTS idx_licenses_activation_date ON licenses(activation_date)"},

		// Device indexes
		{stmt: "CREATE INDEX IF NOT EXISTS idx_devices_license_device ON devices(license_id, device_id)"},

		// Transaction indexes
		{stmt: "CREATE INDEX IF NOT EXISTS idx_transactions_type_status ON transactions(type, status)"},
		{stmt: "CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at DESC)"},

		// User indexes
		{stmt: "CREATE INDEX IF NOT EXISTS idx_users_role_active ON users(role, is_active)"},

		// Admin indexes
		{stmt: "CREATE INDEX IF NOT EXISTS idx_audit_logs_user_action ON audit_logs(user_id, action)"},
		{stmt: "CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)"},
		{stmt: "CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)"},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.stmt).Error; err != nil {
			if idx.required {
				return fmt.Errorf("%s: %w", idx.stmt, err)
			}
			// Continue with other indexes instead of failing completely
			logrus.WithError(err).WithField("index", idx.stmt).Warn("Failed to create index")
		}
	}

	return nil
}

// Seed initial data
func SeedInitialData(db *gorm.DB, cfg config.SeedConfig) error {
	logrus.Info("Seeding initial data...")

	var adminCount int64
	if err := db.Model(&models.User{}).Where("role = ?", models.UserRoleSuperAdmin).Count(&adminCount).Error; err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}

	if adminCount == 0 {
		admin := &models.User{
			Email:     cfg.AdminEmail,
			FirstName: "System",
			LastName:  "Administrator",
			Role:      models.UserRoleSuperAdmin,
			IsActive:  true,
		}

		if err := admin.SetPassword(cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to set admin password: %w", err)
		}

		if err := db.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		logrus.WithField("email", admin.Email).Info("Default admin user created successfully")
	}

	var planCount int64
	if err := db.Model(&models.LicensePlan{}).Count(&planCount).Error; err != nil {
		return fmt.Errorf("failed to count plans: %w", err)
	}

	if planCount == 0 {
		plan := &models.LicensePlan{
			Name:           "Standard Monthly",
			Description:    "Single device, renewed every month",
			Price:          9.99,
			BillingCycle:   models.BillingCycleMonthly,
			DurationMonths: 1,
			IsActive:       true,
			MaxDevices:     1,
			Features:       models.JSONB{"support": "email"},
		}
		if err := db.Create(plan).Error; err != nil {
			logrus.WithError(err).Warn("Failed to create default license plan")
		}
	}

	logrus.Info("Initial data seeding completed")
	return nil
}

// Transaction helper
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
