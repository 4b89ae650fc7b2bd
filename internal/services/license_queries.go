// internal/services/license_queries.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

const statsCacheKey = "stats"

// Actor is the authenticated caller of a query.
type Actor struct {
	ID   uuid.UUID
	Role models.UserRole
}

func (a Actor) IsAdmin() bool { return a.Role == models.UserRoleSuperAdmin }

// CanView allows the license owner, the user who assigned it and admins.
func (a Actor) CanView(l *models.License) bool {
	if a.IsAdmin() {
		return true
	}
	if l.UserID != nil && *l.UserID == a.ID {
		return true
	}
	return l.AssignedByID != nil && *l.AssignedByID == a.ID
}

// CanModify allows the user who assigned the license and admins.
func (a Actor) CanModify(l *models.License) bool {
	return a.IsAdmin() || (l.AssignedByID != nil && *l.AssignedByID == a.ID)
}

type LicenseFilter struct {
	Status  *models.LicenseStatus
	UserID  *uuid.UUID
	PlanID  *uuid.UUID
	AgentID *uuid.UUID
}

type UpdateLicenseRequest struct {
	Status         *models.LicenseStatus `json:"status,omitempty" validate:"omitempty,oneof=pending active expired revoked"`
	Notes          *string               `json:"notes,omitempty"`
	ExpirationDate *time.Time            `json:"expiration_date,omitempty"`
}

type StatusCount struct {
	Status models.LicenseStatus `json:"status"`
	Count  int64                `json:"count"`
}

type PlanCount struct {
	PlanName string `json:"plan_name"`
	Count    int64  `json:"count"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

type LicenseStats struct {
	ByStatus           []StatusCount `json:"by_status"`
	ByPlan             []PlanCount   `json:"by_plan"`
	MonthlyActivations []MonthCount  `json:"monthly_activations"`
}

func (s *LicenseService) GetLicense(ctx context.Context, actor Actor, id uuid.UUID) (*models.License, error) {
	var license models.License
	err := s.db.WithContext(ctx).
		Preload("Plan").Preload("User").Preload("AssignedBy").
		First(&license, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}

	if !actor.CanView(&license) {
		return nil, ErrLicenseAccessDenied
	}
	return &license, nil
}

// ListLicenses returns one page of licenses visible to actor. Agents see the
// licenses they assigned and those of their users, users see their own.
func (s *LicenseService) ListLicenses(ctx context.Context, actor Actor, filter LicenseFilter, params utils.PaginationParams) ([]models.License, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.License{})

	if filter.Status != nil {
		query = query.Where("licenses.status = ?", *filter.Status)
	}

	switch {
	case filter.UserID != nil && actor.Role != models.UserRoleUser:
		query = query.Where("licenses.user_id = ?", *filter.UserID)
		if actor.Role == models.UserRoleAgent {
			query = query.Where(agentScope(s.db, actor.ID))
		}
	case actor.Role == models.UserRoleAgent:
		query = query.Where(agentScope(s.db, actor.ID))
	case actor.Role == models.UserRoleUser:
		query = query.Where("licenses.user_id = ?", actor.ID)
	}

	if filter.PlanID != nil {
		query = query.Where("licenses.plan_id = ?", *filter.PlanID)
	}

	if filter.AgentID != nil {
		query = query.Where("licenses.user_id IN (?)",
			s.db.Model(&models.User{}).Select("id").Where("agent_id = ?", *filter.AgentID))
	}

	if params.Search != "" {
		query = query.Where("licenses.license_key LIKE ?", "%"+strings.ToUpper(params.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count licenses: %w", err)
	}

	var licenses []models.License
	query = utils.ApplySort(query, params, licenseSortColumns)
	err := utils.ApplyPagination(query, params).
		Preload("Plan").Preload("User").Preload("AssignedBy").
		Find(&licenses).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list licenses: %w", err)
	}

	return licenses, total, nil
}

var licenseSortColumns = utils.SortColumns{
	Keys: []string{"created_at", "activation_date", "expiration_date", "status"},
	Columns: map[string]string{
		"created_at":      "licenses.created_at",
		"activation_date": "licenses.activation_date",
		"expiration_date": "licenses.expiration_date",
		"status":          "licenses.status",
	},
}

func agentScope(db *gorm.DB, agentID uuid.UUID) *gorm.DB {
	return db.Where("licenses.assigned_by_id = ?", agentID).
		Or("licenses.user_id IN (?)", db.Model(&models.User{}).Select("id").Where("agent_id = ?", agentID))
}

// UpdateLicense changes the status, notes or expiration of a license. Status
// changes follow the lifecycle: revoked is terminal, expired is only reachable
// from active, and only licenses with a user can become active. Becoming
// active starts a new validity window from the plan unless an expiration is
// given, and an active license must expire after its activation and after now.
func (s *LicenseService) UpdateLicense(ctx context.Context, actor Actor, id uuid.UUID, req *UpdateLicenseRequest) (*models.License, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	var (
		license  models.License
		previous models.LicenseStatus
		expired  []models.License
	)
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&license, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLicenseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load license: %w", err)
		}

		if !actor.CanModify(&license) {
			return ErrLicenseAccessDenied
		}

		now := s.now()
		previous = license.Status
		updates := map[string]interface{}{}

		if req.Status != nil && *req.Status != license.Status {
			expired, err = s.applyStatus(tx, &license, *req.Status, now, updates)
			if err != nil {
				return err
			}
		}

		if req.Notes != nil {
			license.Notes = *req.Notes
			updates["notes"] = license.Notes
		}

		if req.ExpirationDate != nil {
			if license.Status == models.LicenseStatusRevoked {
				return ErrLicenseRevoked
			}
			exp := req.ExpirationDate.UTC()
			license.ExpirationDate = &exp
			updates["expiration_date"] = license.ExpirationDate
		}

		if license.Status == models.LicenseStatusActive && (req.ExpirationDate != nil || previous != license.Status) {
			if !validWindow(&license, now) {
				return ErrInvalidExpiration
			}
		}

		if len(updates) == 0 {
			return nil
		}

		err = tx.Model(&models.License{}).Where("id = ?", license.ID).Updates(updates).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActiveLicenseExists
		}
		if err != nil {
			return fmt.Errorf("failed to update license: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.announceExpired(ctx, expired)
	if previous != license.Status {
		s.log.WithFields(logrus.Fields{
			"license_id": license.ID,
			"from":       previous,
			"to":         license.Status,
		}).Info("License status changed")
		s.invalidateStats(ctx)
	}

	return s.GetLicense(ctx, actor, license.ID)
}

// validWindow reports whether an active license has a usable validity window.
// A nil expiration means perpetual.
func validWindow(l *models.License, now time.Time) bool {
	if l.ActivationDate == nil {
		return false
	}
	if l.ExpirationDate == nil {
		return true
	}
	return l.ExpirationDate.After(*l.ActivationDate) && l.ExpirationDate.After(now)
}

func (s *LicenseService) applyStatus(tx *gorm.DB, license *models.License, to models.LicenseStatus, now time.Time, updates map[string]interface{}) ([]models.License, error) {
	from := license.Status

	var expired []models.License
	switch {
	case from == models.LicenseStatusRevoked:
		return nil, ErrLicenseRevoked
	case to == models.LicenseStatusRevoked:
		// use RevokeLicense for a recorded reason
	case to == models.LicenseStatusExpired:
		if from != models.LicenseStatusActive {
			return nil, ErrInvalidTransition
		}
	case to == models.LicenseStatusActive:
		if license.UserID == nil {
			return nil, ErrInvalidTransition
		}

		var err error
		expired, err = ensureNoActiveLicense(tx, *license.UserID, license.PlanID, now)
		if err != nil {
			return nil, err
		}

		var plan models.LicensePlan
		if err := tx.First(&plan, "id = ?", license.PlanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrPlanNotFound
			}
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}

		license.ActivationDate = &now
		license.ExpirationDate = plan.ExpirationFrom(now)
		updates["activation_date"] = license.ActivationDate
		updates["expiration_date"] = license.ExpirationDate
	default:
		return nil, ErrInvalidTransition
	}

	license.Status = to
	updates["status"] = to
	return expired, nil
}

// GetStats counts licenses by status, by plan name and by activation month
// (YYYY-MM). Results are cached briefly when a cache is configured.
func (s *LicenseService) GetStats(ctx context.Context) (*LicenseStats, error) {
	var stats LicenseStats
	found, err := s.cache.Get(ctx, statsCacheKey, &stats)
	if err != nil {
		s.log.WithError(err).Warn("Stats cache read failed")
	}
	if found {
		return &stats, nil
	}

	db := s.db.WithContext(ctx)

	if err := db.Model(&models.License{}).
		Select("status, COUNT(*) AS count").
		Group("status").Order("status").
		Scan(&stats.ByStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to count licenses by status: %w", err)
	}

	if err := db.Model(&models.License{}).
		Select("license_plans.name AS plan_name, COUNT(*) AS count").
		Joins("JOIN license_plans ON license_plans.id = licenses.plan_id").
		Group("license_plans.name").Order("license_plans.name").
		Scan(&stats.ByPlan).Error; err != nil {
		return nil, fmt.Errorf("failed to count licenses by plan: %w", err)
	}

	var activations []time.Time
	if err := db.Model(&models.License{}).
		Where("activation_date IS NOT NULL").
		Pluck("activation_date", &activations).Error; err != nil {
		return nil, fmt.Errorf("failed to load activation dates: %w", err)
	}
	stats.MonthlyActivations = monthlyCounts(activations)

	if err := s.cache.Set(ctx, statsCacheKey, &stats, s.statsTTL); err != nil {
		s.log.WithError(err).Warn("Stats cache write failed")
	}
	return &stats, nil
}

func monthlyCounts(dates []time.Time) []MonthCount {
	byMonth := make(map[string]int64)
	for _, d := range dates {
		byMonth[d.UTC().Format("2006-01")]++
	}

	out := make([]MonthCount, 0, len(byMonth))
	for month, count := range byMonth {
		out = append(out, MonthCount{Month: month, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func (s *LicenseService) invalidateStats(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, statsCacheKey); err != nil {
		s.log.WithError(err).Warn("Stats cache invalidation failed")
	}
}
