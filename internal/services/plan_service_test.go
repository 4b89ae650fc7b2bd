package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/license-backend/internal/models"
)

func validPlanRequest() *CreatePlanRequest {
	return &CreatePlanRequest{
		Name:                "Pro Annual",
		Description:         "Everything, billed yearly",
		Price:               99,
		BillingCycle:        models.BillingCycleAnnual,
		DurationMonths:      12,
		IsActive:            true,
		Features:            map[string]interface{}{"support": "priority"},
		MaxDevices:          3,
		AgentCommissionRate: 15,
	}
}

func TestPlanService_CreatePlan(t *testing.T) {
	db := openTestDB(t)
	s := NewPlanService(db, nil, 0)
	ctx := context.Background()

	plan, err := s.CreatePlan(ctx, validPlanRequest())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, plan.ID)
	assert.Equal(t, "priority", plan.Features["support"])

	_, err = s.CreatePlan(ctx, validPlanRequest())
	assert.ErrorIs(t, err, ErrPlanExists)

	bad := validPlanRequest()
	bad.Name = "Other"
	bad.BillingCycle = "weekly"
	_, err = s.CreatePlan(ctx, bad)
	assert.ErrorIs(t, err, ErrValidationFailed)

	bad = validPlanRequest()
	bad.Name = "Greedy"
	bad.AgentCommissionRate = 120
	_, err = s.CreatePlan(ctx, bad)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestPlanService_PerpetualAndUnlimitedPlansKeepZeroValues(t *testing.T) {
	db := openTestDB(t)
	s := NewPlanService(db, nil, 0)
	ctx := context.Background()

	req := validPlanRequest()
	req.BillingCycle = models.BillingCycleOneTime
	req.DurationMonths = 0
	req.MaxDevices = 0
	req.IsActive = false
	created, err := s.CreatePlan(ctx, req)
	require.NoError(t, err)

	plan, err := s.GetPlan(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, plan.DurationMonths)
	assert.Zero(t, plan.MaxDevices)
	assert.False(t, plan.IsActive)
	assert.True(t, plan.Perpetual())
}

func TestPlanService_GetPlanUsesCache(t *testing.T) {
	db := openTestDB(t)
	c, mr := newTestCache(t)
	s := NewPlanService(db, c, 0)
	ctx := context.Background()

	created, err := s.CreatePlan(ctx, validPlanRequest())
	require.NoError(t, err)

	_, err = s.GetPlan(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists("license:plan:"+created.ID.String()))

	// Served from the cache once the row is gone.
	require.NoError(t, db.Unscoped().Delete(&models.LicensePlan{}, "id = ?", created.ID).Error)
	cached, err := s.GetPlan(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pro Annual", cached.Name)

	mr.FlushAll()
	_, err = s.GetPlan(ctx, created.ID)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestPlanService_GetPlanFallsBackWhenCacheDown(t *testing.T) {
	db := openTestDB(t)
	c, mr := newTestCache(t)
	s := NewPlanService(db, c, 0)
	ctx := context.Background()

	created, err := s.CreatePlan(ctx, validPlanRequest())
	require.NoError(t, err)

	mr.Close()
	plan, err := s.GetPlan(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, plan.ID)
}

func TestPlanService_ListPlans(t *testing.T) {
	db := openTestDB(t)
	s := NewPlanService(db, nil, 0)
	ctx := context.Background()

	createPlan(t, db, func(p *models.LicensePlan) { p.Name = "B"; p.Price = 20 })
	createPlan(t, db, func(p *models.LicensePlan) { p.Name = "A"; p.Price = 10 })
	createPlan(t, db, func(p *models.LicensePlan) { p.Name = "Retired"; p.Price = 5; p.IsActive = false })

	all, err := s.ListPlans(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Retired", all[0].Name)

	active, err := s.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "A", active[0].Name)
	assert.Equal(t, "B", active[1].Name)
}
