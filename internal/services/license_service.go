// internal/services/license_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/license-backend/internal/cache"
	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/events"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

// LicenseService issues, activates, validates and revokes licenses.
type LicenseService struct {
	db        *gorm.DB
	plans     *PlanService
	cfg       config.LicenseConfig
	signer    *utils.LicenseKeySigner
	random    io.Reader
	now       func() time.Time
	cache     *cache.Cache
	statsTTL  time.Duration
	publisher events.Publisher
	metrics   *metrics.Recorder
	log       *logrus.Entry
}

type LicenseServiceOption func(*LicenseService)

// WithClock replaces time.Now. Returned times should be UTC.
func WithClock(now func() time.Time) LicenseServiceOption {
	return func(s *LicenseService) { s.now = now }
}

// WithRandom sets the random source used for license keys.
func WithRandom(r io.Reader) LicenseServiceOption {
	return func(s *LicenseService) { s.random = r }
}

func WithStatsCache(c *cache.Cache, ttl time.Duration) LicenseServiceOption {
	return func(s *LicenseService) {
		s.cache = c
		s.statsTTL = ttl
	}
}

func WithPublisher(p events.Publisher) LicenseServiceOption {
	return func(s *LicenseService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Recorder) LicenseServiceOption {
	return func(s *LicenseService) { s.metrics = m }
}

func WithLogger(l *logrus.Logger) LicenseServiceOption {
	return func(s *LicenseService) {
		if l != nil {
			s.log = l.WithField("component", "license_service")
		}
	}
}

type ValidationResult struct {
	IsValid bool            `json:"is_valid"`
	License *models.License `json:"license,omitempty"`
	Message string          `json:"message,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

func NewLicenseService(db *gorm.DB, plans *PlanService, cfg config.LicenseConfig, opts ...LicenseServiceOption) (*LicenseService, error) {
	s := &LicenseService{
		db:        db,
		plans:     plans,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		publisher: events.NopPublisher{},
		log:       logrus.WithField("component", "license_service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	signer, err := utils.NewLicenseKeySigner(cfg.SecretKey, s.random)
	if err != nil {
		return nil, fmt.Errorf("failed to create license key signer: %w", err)
	}
	s.signer = signer

	if s.cfg.KeyRetries < 1 {
		s.cfg.KeyRetries = 1
	}
	if s.cfg.BulkMax < 1 {
		s.cfg.BulkMax = 100
	}

	return s, nil
}

// CreateLicense issues a new license on planID. When userID names an existing
// user the license is activated for that user immediately, otherwise it is
// left pending. An unknown userID is not an error. notes are stored with the
// new row.
func (s *LicenseService) CreateLicense(ctx context.Context, planID, createdBy uuid.UUID, userID *uuid.UUID, notes string) (license *models.License, err error) {
	defer func() { s.metrics.Operation("create", err) }()

	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	license = &models.License{
		Status:  models.LicenseStatusPending,
		PlanID:  plan.ID,
		IsTrial: plan.IsTrial,
		Notes:   notes,
	}
	if createdBy != uuid.Nil {
		license.AssignedByID = &createdBy
	}

	var (
		user    *models.User
		expired []models.License
	)
	if userID != nil {
		var u models.User
		err := db.First(&u, "id = ?", *userID).Error
		switch {
		case err == nil:
			now := s.now()
			expired, err = ensureNoActiveLicense(db, u.ID, plan.ID, now)
			if err != nil {
				return nil, err
			}
			user = &u
			license.UserID = &u.ID
			license.Status = models.LicenseStatusActive
			license.ActivationDate = &now
			license.ExpirationDate = plan.ExpirationFrom(now)
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.log.WithFields(logrus.Fields{
				"plan_id": plan.ID,
				"user_id": *userID,
			}).Warn("User for new license not found, leaving license pending")
		default:
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
	}

	s.announceExpired(ctx, expired)

	if err := s.insertLicense(db, license); err != nil {
		return nil, err
	}
	license.Plan = plan
	license.User = user

	s.log.WithFields(logrus.Fields{
		"license_id": license.ID,
		"plan_id":    plan.ID,
		"status":     license.Status,
	}).Info("License created")

	s.publish(ctx, s.licenseEvent(events.LicenseCreated, license))
	if license.Status == models.LicenseStatusActive {
		s.publish(ctx, s.licenseEvent(events.LicenseActivated, license))
	}
	s.invalidateStats(ctx)

	return license, nil
}

// BulkGenerateLicenses creates count pending licenses. Each license is
// committed on its own; on failure the licenses created so far are returned
// together with the error.
func (s *LicenseService) BulkGenerateLicenses(ctx context.Context, planID uuid.UUID, count int, createdBy uuid.UUID) ([]*models.License, error) {
	if count < 1 || count > s.cfg.BulkMax {
		return nil, ErrInvalidCount
	}

	if _, err := s.plans.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	licenses := make([]*models.License, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return licenses, err
		}
		license, err := s.CreateLicense(ctx, planID, createdBy, nil, "")
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"plan_id": planID,
				"created": len(licenses),
				"count":   count,
			}).Warn("Bulk license generation stopped early")
			return licenses, err
		}
		licenses = append(licenses, license)
	}

	return licenses, nil
}

// ActivateLicense binds the license identified by licenseKey to userID and
// starts its validity window. The purchase transaction and any agent
// commission are recorded in the same store transaction.
func (s *LicenseService) ActivateLicense(ctx context.Context, licenseKey string, userID uuid.UUID, deviceID string) (result *models.License, err error) {
	defer func() { s.metrics.Operation("activate", err) }()

	if !s.signer.Verify(licenseKey) {
		return nil, ErrInvalidLicenseKey
	}
	key := strings.ToUpper(licenseKey)
	deviceID = strings.TrimSpace(deviceID)

	var (
		license models.License
		plan    models.LicensePlan
		user    models.User
		txn     models.Transaction
		expired []models.License
	)

	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_key = ?", key).
			First(&license).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load license: %w", err)
		}

		now := s.now()
		switch license.Status {
		case models.LicenseStatusRevoked:
			return ErrLicenseRevoked
		case models.LicenseStatusExpired:
			return ErrLicenseExpired
		case models.LicenseStatusActive:
			if license.IsOverdue(now) {
				return ErrLicenseExpired
			}
			if license.UserID != nil && *license.UserID != userID {
				return ErrLicenseInUse
			}
			return ErrActiveLicenseExists
		}

		if err := tx.First(&plan, "id = ?", license.PlanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return fmt.Errorf("failed to load plan: %w", err)
		}

		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}

		expired, err = ensureNoActiveLicense(tx, user.ID, plan.ID, now)
		if err != nil {
			return err
		}

		license.UserID = &user.ID
		license.Status = models.LicenseStatusActive
		license.ActivationDate = &now
		license.ExpirationDate = plan.ExpirationFrom(now)

		err = tx.Model(&models.License{}).Where("id = ?", license.ID).Updates(map[string]interface{}{
			"user_id":         user.ID,
			"status":          license.Status,
			"activation_date": license.ActivationDate,
			"expiration_date": license.ExpirationDate,
		}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActiveLicenseExists
		}
		if err != nil {
			return fmt.Errorf("failed to activate license: %w", err)
		}

		if deviceID != "" {
			if err := bindDevice(tx, &license, &plan, user.ID, deviceID, now); err != nil {
				return err
			}
		}

		licenseID := license.ID
		txn = models.Transaction{
			Type:        models.TransactionTypeLicensePurchase,
			Status:      models.TransactionStatusCompleted,
			Amount:      plan.Price,
			Currency:    "USD",
			Description: fmt.Sprintf("Activation of %s license", plan.Name),
			LicenseID:   &licenseID,
			UserID:      user.ID,
		}

		if user.AgentID != nil {
			if err := s.accrueCommission(tx, &txn, &plan, *user.AgentID); err != nil {
				return err
			}
		}

		if err := tx.Omit(clause.Associations).Create(&txn).Error; err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}

		return nil
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id":   userID,
			"device_id": deviceID,
		}).Info("License activation rejected")
		return nil, err
	}

	license.Plan = &plan
	license.User = &user

	s.announceExpired(ctx, expired)
	s.log.WithFields(logrus.Fields{
		"license_id": license.ID,
		"plan_id":    plan.ID,
		"user_id":    user.ID,
	}).Info("License activated")

	s.publish(ctx, s.licenseEvent(events.LicenseActivated, &license))
	if txn.CommissionAmount != nil && *txn.CommissionAmount > 0 {
		s.metrics.CommissionAccrued(*txn.CommissionAmount)
		event := s.licenseEvent(events.CommissionAccrued, &license)
		event.AgentID = txn.AgentID
		event.Data = map[string]any{
			"amount": *txn.CommissionAmount,
			"rate":   *txn.CommissionRate,
		}
		s.publish(ctx, event)
	}
	s.invalidateStats(ctx)

	return &license, nil
}

// accrueCommission fills the commission fields of txn and adds the amount to
// the agent's running total inside tx. A missing agent earns nothing.
func (s *LicenseService) accrueCommission(tx *gorm.DB, txn *models.Transaction, plan *models.LicensePlan, agentID uuid.UUID) error {
	var agent models.User
	if err := tx.First(&agent, "id = ?", agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.WithField("agent_id", agentID).Warn("Agent referenced by user not found, no commission accrued")
			return nil
		}
		return fmt.Errorf("failed to load agent: %w", err)
	}

	rate := CommissionRate(plan, &agent)
	amount := plan.Price * rate / 100

	txn.AgentID = &agent.ID
	txn.CommissionRate = &rate
	txn.CommissionAmount = &amount

	if amount == 0 {
		return nil
	}

	err := tx.Model(&models.User{}).
		Where("id = ?", agent.ID).
		UpdateColumn("total_commission", gorm.Expr("total_commission + ?", amount)).Error
	if err != nil {
		return fmt.Errorf("failed to accrue commission: %w", err)
	}
	return nil
}

// CommissionRate is the plan's agent rate when set, else the agent's own rate.
func CommissionRate(plan *models.LicensePlan, agent *models.User) float64 {
	if plan.AgentCommissionRate > 0 {
		return plan.AgentCommissionRate
	}
	if agent != nil && agent.CommissionRate > 0 {
		return agent.CommissionRate
	}
	return 0
}

func bindDevice(tx *gorm.DB, license *models.License, plan *models.LicensePlan, userID uuid.UUID, deviceID string, now time.Time) error {
	if plan.MaxDevices > 0 {
		others, err := countOtherDevices(tx, license.ID, deviceID)
		if err != nil {
			return err
		}
		if others >= int64(plan.MaxDevices) {
			return ErrDeviceLimitReached
		}
	}

	licenseID := license.ID
	var device models.Device
	err := tx.Where("device_id = ?", deviceID).First(&device).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		device = models.Device{
			Name:         deviceID,
			DeviceID:     deviceID,
			Platform:     "unknown",
			UserID:       userID,
			LicenseID:    &licenseID,
			LastActiveAt: &now,
		}
		if err := tx.Omit(clause.Associations).Create(&device).Error; err != nil {
			return fmt.Errorf("failed to register device: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to load device: %w", err)
	}

	err = tx.Model(&models.Device{}).Where("id = ?", device.ID).Updates(map[string]interface{}{
		"user_id":        userID,
		"license_id":     licenseID,
		"last_active_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to bind device: %w", err)
	}
	return nil
}

// ValidateLicense reports whether licenseKey currently authorizes use,
// optionally from deviceID. It never returns an error; failures are described
// by the result. With lazy expiry enabled an overdue license is moved to
// expired through ReconcileExpiry before the result is returned.
func (s *LicenseService) ValidateLicense(ctx context.Context, licenseKey, deviceID string) *ValidationResult {
	result := s.validate(ctx, licenseKey, strings.TrimSpace(deviceID))
	s.metrics.Validation(result.Reason)
	return result
}

func (s *LicenseService) validate(ctx context.Context, licenseKey, deviceID string) *ValidationResult {
	if !s.signer.Verify(licenseKey) {
		return invalid(nil, ReasonInvalidKey, "Invalid license key")
	}

	db := s.db.WithContext(ctx)

	var license models.License
	err := db.Preload("Plan").Preload("User").
		Where("license_key = ?", strings.ToUpper(licenseKey)).
		First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return invalid(nil, ReasonNotFound, "License not found")
	}
	if err != nil {
		s.log.WithError(err).Error("License lookup failed during validation")
		return invalid(nil, ReasonLookupFailed, "License could not be validated")
	}

	if license.Status != models.LicenseStatusActive {
		return invalid(&license, ReasonNotActive, fmt.Sprintf("License is %s", license.Status))
	}

	if license.IsOverdue(s.now()) {
		if s.cfg.LazyExpiry {
			if _, err := s.ReconcileExpiry(ctx, &license); err != nil {
				s.log.WithError(err).WithField("license_id", license.ID).Error("Failed to reconcile license expiry")
			}
		}
		return invalid(&license, ReasonExpired, "License has expired")
	}

	if deviceID != "" && license.Plan != nil && license.Plan.MaxDevices > 0 {
		others, err := countOtherDevices(db, license.ID, deviceID)
		if err != nil {
			s.log.WithError(err).WithField("license_id", license.ID).Error("Device count failed during validation")
			return invalid(&license, ReasonLookupFailed, "License could not be validated")
		}
		if others >= int64(license.Plan.MaxDevices) {
			return invalid(&license, ReasonDeviceLimit, "Maximum number of devices reached for this license")
		}
	}

	return &ValidationResult{IsValid: true, License: &license}
}

func invalid(license *models.License, reason, message string) *ValidationResult {
	return &ValidationResult{IsValid: false, License: license, Message: message, Reason: reason}
}

// ReconcileExpiry moves an active license whose expiration date has passed to
// expired. It is idempotent and reports whether this call made the change.
func (s *LicenseService) ReconcileExpiry(ctx context.Context, license *models.License) (bool, error) {
	now := s.now()
	if license.Status != models.LicenseStatusActive || !license.IsOverdue(now) {
		return false, nil
	}

	res := s.db.WithContext(ctx).Model(&models.License{}).
		Where("id = ? AND status = ?", license.ID, models.LicenseStatusActive).
		Update("status", models.LicenseStatusExpired)
	if res.Error != nil {
		return false, fmt.Errorf("failed to expire license: %w", res.Error)
	}

	license.Status = models.LicenseStatusExpired
	if res.RowsAffected == 0 {
		return false, nil
	}

	s.log.WithField("license_id", license.ID).Info("License expired")
	s.publish(ctx, s.licenseEvent(events.LicenseExpired, license))
	s.invalidateStats(ctx)
	return true, nil
}

// ExpireOverdueLicenses expires every active license past its expiration date
// and returns how many were changed.
func (s *LicenseService) ExpireOverdueLicenses(ctx context.Context) (int64, error) {
	db := s.db.WithContext(ctx)
	now := s.now()

	var overdue []models.License
	err := db.Where("status = ? AND expiration_date IS NOT NULL AND expiration_date < ?", models.LicenseStatusActive, now).
		Find(&overdue).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find overdue licenses: %w", err)
	}

	var expired int64
	for i := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		res := db.Model(&models.License{}).
			Where("id = ? AND status = ?", overdue[i].ID, models.LicenseStatusActive).
			Update("status", models.LicenseStatusExpired)
		if res.Error != nil {
			return expired, fmt.Errorf("failed to expire license %s: %w", overdue[i].ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		expired++
		overdue[i].Status = models.LicenseStatusExpired
		s.publish(ctx, s.licenseEvent(events.LicenseExpired, &overdue[i]))
	}

	if expired > 0 {
		s.metrics.ExpiredSwept(expired)
		s.invalidateStats(ctx)
	}
	return expired, nil
}

// RevokeLicense permanently revokes a license. A non-empty reason is appended
// to the notes on its own line. Revoking twice fails with
// ErrLicenseAlreadyRevoked.
func (s *LicenseService) RevokeLicense(ctx context.Context, licenseID uuid.UUID, reason string) (result *models.License, err error) {
	defer func() { s.metrics.Operation("revoke", err) }()

	var license models.License
	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&license, "id = ?", licenseID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load license: %w", err)
		}

		if license.Status == models.LicenseStatusRevoked {
			return ErrLicenseAlreadyRevoked
		}

		license.Status = models.LicenseStatusRevoked
		license.Notes = appendRevocationNote(license.Notes, reason)

		err = tx.Model(&models.License{}).Where("id = ?", license.ID).Updates(map[string]interface{}{
			"status": license.Status,
			"notes":  license.Notes,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to revoke license: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("license_id", license.ID).Info("License revoked")

	event := s.licenseEvent(events.LicenseRevoked, &license)
	if reason != "" {
		event.Data = map[string]any{"reason": reason}
	}
	s.publish(ctx, event)
	s.invalidateStats(ctx)

	return &license, nil
}

func appendRevocationNote(notes, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return notes
	}
	entry := "Revoked: " + reason
	if notes == "" {
		return entry
	}
	return notes + "\n" + entry
}

// ensureNoActiveLicense fails when userID still holds a running license on
// planID. Active licenses past their expiration date are expired first and
// returned, so the caller can announce them once its change is committed.
func ensureNoActiveLicense(db *gorm.DB, userID, planID uuid.UUID, now time.Time) ([]models.License, error) {
	expired, err := expireOverdueFor(db, userID, planID, now)
	if err != nil {
		return nil, err
	}

	var count int64
	err = db.Model(&models.License{}).
		Where("user_id = ? AND plan_id = ? AND status = ?", userID, planID, models.LicenseStatusActive).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check active licenses: %w", err)
	}
	if count > 0 {
		return nil, ErrActiveLicenseExists
	}
	return expired, nil
}

func expireOverdueFor(db *gorm.DB, userID, planID uuid.UUID, now time.Time) ([]models.License, error) {
	var overdue []models.License
	err := db.Where("user_id = ? AND plan_id = ? AND status = ? AND expiration_date IS NOT NULL AND expiration_date < ?",
		userID, planID, models.LicenseStatusActive, now).
		Find(&overdue).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find overdue licenses: %w", err)
	}

	expired := overdue[:0]
	for _, l := range overdue {
		res := db.Model(&models.License{}).
			Where("id = ? AND status = ?", l.ID, models.LicenseStatusActive).
			Update("status", models.LicenseStatusExpired)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to expire license %s: %w", l.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		l.Status = models.LicenseStatusExpired
		expired = append(expired, l)
	}
	return expired, nil
}

func (s *LicenseService) announceExpired(ctx context.Context, licenses []models.License) {
	for i := range licenses {
		s.log.WithField("license_id", licenses[i].ID).Info("License expired")
		s.publish(ctx, s.licenseEvent(events.LicenseExpired, &licenses[i]))
	}
	if len(licenses) > 0 {
		s.invalidateStats(ctx)
	}
}

func countOtherDevices(db *gorm.DB, licenseID uuid.UUID, deviceID string) (int64, error) {
	var count int64
	err := db.Model(&models.Device{}).
		Where("license_id = ? AND device_id <> ?", licenseID, deviceID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

// insertLicense stores license under a freshly generated key, retrying with a
// new key when the previous one is already taken.
func (s *LicenseService) insertLicense(db *gorm.DB, license *models.License) error {
	for attempt := 1; attempt <= s.cfg.KeyRetries; attempt++ {
		key, err := s.signer.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate license key: %w", err)
		}
		license.LicenseKey = key

		err = db.Omit(clause.Associations).Create(license).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create license: %w", err)
		}

		taken, err := licenseKeyExists(db, key)
		if err != nil {
			return err
		}
		if !taken {
			// The only other unique constraint is one active license per user and plan.
			return ErrActiveLicenseExists
		}
		s.log.WithField("attempt", attempt).Warn("License key collision, retrying with a new key")
	}
	return ErrKeyCollision
}

func licenseKeyExists(db *gorm.DB, key string) (bool, error) {
	var count int64
	err := db.Unscoped().Model(&models.License{}).Where("license_key = ?", key).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check license key: %w", err)
	}
	return count > 0, nil
}

func (s *LicenseService) licenseEvent(eventType string, license *models.License) events.Event {
	event := events.NewEvent(eventType, s.now())
	licenseID, planID := license.ID, license.PlanID
	event.LicenseID = &licenseID
	event.PlanID = &planID
	if license.UserID != nil {
		userID := *license.UserID
		event.UserID = &userID
	}
	return event
}

// publish is best effort. The store change has already been committed.
func (s *LicenseService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("event", event.Type).Warn("Failed to publish license event")
	}
}
