// internal/services/plan_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/cache"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/utils"
)

var ErrPlanExists = newLicenseError(ErrInvalidState, "license plan name already exists")

type PlanService struct {
	db    *gorm.DB
	cache *cache.Cache
	ttl   time.Duration
}

type CreatePlanRequest struct {
	Name                string                 `json:"name" validate:"required,min=2,max=100"`
	Description         string                 `json:"description,omitempty"`
	Price               float64                `json:"price" validate:"gte=0"`
	BillingCycle        models.BillingCycle    `json:"billing_cycle" validate:"required,oneof=monthly quarterly biannual annual one_time"`
	DurationMonths      int                    `json:"duration_months" validate:"gte=0"`
	IsActive            bool                   `json:"is_active"`
	Features            map[string]interface{} `json:"features,omitempty"`
	MaxDevices          int                    `json:"max_devices" validate:"gte=0"`
	IsTrial             bool                   `json:"is_trial"`
	TrialDays           *int                   `json:"trial_days,omitempty" validate:"omitempty,gte=1"`
	AgentCommissionRate float64                `json:"agent_commission_rate" validate:"gte=0,lte=100"`
}

// NewPlanService returns a plan service. c may be nil to disable caching.
func NewPlanService(db *gorm.DB, c *cache.Cache, ttl time.Duration) *PlanService {
	return &PlanService{db: db, cache: c, ttl: ttl}
}

func planCacheKey(id uuid.UUID) string {
	return "plan:" + id.String()
}

func (s *PlanService) CreatePlan(ctx context.Context, req *CreatePlanRequest) (*models.LicensePlan, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	plan := &models.LicensePlan{
		Name:                req.Name,
		Description:         req.Description,
		Price:               req.Price,
		BillingCycle:        req.BillingCycle,
		DurationMonths:      req.DurationMonths,
		IsActive:            req.IsActive,
		Features:            models.JSONB(req.Features),
		MaxDevices:          req.MaxDevices,
		IsTrial:             req.IsTrial,
		TrialDays:           req.TrialDays,
		AgentCommissionRate: req.AgentCommissionRate,
	}

	err := s.db.WithContext(ctx).Create(plan).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrPlanExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"plan_id": plan.ID,
		"name":    plan.Name,
	}).Info("License plan created")

	return plan, nil
}

// GetPlan loads a plan, consulting the cache first. Cache failures fall back
// to the store.
func (s *PlanService) GetPlan(ctx context.Context, id uuid.UUID) (*models.LicensePlan, error) {
	var plan models.LicensePlan

	found, err := s.cache.Get(ctx, planCacheKey(id), &plan)
	if err != nil {
		logrus.WithError(err).WithField("plan_id", id).Warn("Plan cache read failed")
	}
	if found {
		return &plan, nil
	}

	err = s.db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	if err := s.cache.Set(ctx, planCacheKey(id), &plan, s.ttl); err != nil {
		logrus.WithError(err).WithField("plan_id", id).Warn("Plan cache write failed")
	}
	return &plan, nil
}

func (s *PlanService) ListPlans(ctx context.Context, activeOnly bool) ([]models.LicensePlan, error) {
	query := s.db.WithContext(ctx).Order("price ASC, name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var plans []models.LicensePlan
	if err := query.Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}
