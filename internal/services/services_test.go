package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/events"
	"github.com/javajoker/license-backend/internal/models"
)

const testLicenseSecret = "test-license-secret"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Initialize(config.DatabaseConfig{
		Driver:       "sqlite",
		SQLitePath:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, database.RunMigrations(db))
	return db
}

func testLicenseConfig() config.LicenseConfig {
	return config.LicenseConfig{
		SecretKey:  testLicenseSecret,
		LazyExpiry: true,
		BulkMax:    100,
		KeyRetries: 3,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func createUser(t *testing.T, db *gorm.DB, role models.UserRole, mutate func(*models.User)) *models.User {
	t.Helper()
	u := &models.User{
		Email:    uuid.NewString() + "@example.com",
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, u.SetPassword("password1"))
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, db.Omit("Agent").Create(u).Error)
	return u
}

func createPlan(t *testing.T, db *gorm.DB, mutate func(*models.LicensePlan)) *models.LicensePlan {
	t.Helper()
	p := &models.LicensePlan{
		Name:           "plan-" + uuid.NewString()[:8],
		Price:          100,
		BillingCycle:   models.BillingCycleMonthly,
		DurationMonths: 1,
		MaxDevices:     1,
		IsActive:       true,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func reloadLicense(t *testing.T, db *gorm.DB, id uuid.UUID) *models.License {
	t.Helper()
	var l models.License
	require.NoError(t, db.First(&l, "id = ?", id).Error)
	return &l
}

func ptr[T any](v T) *T { return &v }

// mustTime keeps test times on whole seconds so stored values compare cleanly.
func mustTime(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}
