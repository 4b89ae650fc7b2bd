// internal/handlers/plan.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

type PlanHandler struct {
	planService *services.PlanService
}

func NewPlanHandler(planService *services.PlanService) *PlanHandler {
	return &PlanHandler{
		planService: planService,
	}
}

// POST /plans
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	var req services.CreatePlanRequest
	if !bindAndValidate(c, &req) {
		return
	}

	plan, err := h.planService.CreatePlan(c.Request.Context(), &req)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyPlanCreated),
		"plan":    plan,
	})
}

// GET /plans?all=true
// Inactive plans are only listed for super admins.
func (h *PlanHandler) ListPlans(c *gin.Context) {
	role, _ := utils.GetUserRoleFromContext(c)
	activeOnly := c.Query("all") != "true" || models.UserRole(role) != models.UserRoleSuperAdmin

	plans, err := h.planService.ListPlans(c.Request.Context(), activeOnly)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"plans": plans,
	})
}

// GET /plans/:id
func (h *PlanHandler) GetPlan(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "plan id"), nil)
		return
	}

	plan, err := h.planService.GetPlan(c.Request.Context(), id)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"plan": plan,
	})
}
