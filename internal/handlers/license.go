// internal/handlers/license.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

type LicenseHandler struct {
	licenseService *services.LicenseService
}

type CreateLicenseRequest struct {
	PlanID uuid.UUID  `json:"plan_id" validate:"required"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
	Notes  string     `json:"notes,omitempty" validate:"max=2000"`
}

type BulkCreateLicensesRequest struct {
	PlanID uuid.UUID `json:"plan_id" validate:"required"`
	Count  int       `json:"count" validate:"required,min=1,max=100"`
}

type ActivateLicenseRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
	DeviceID   string `json:"device_id,omitempty" validate:"max=255"`
}

type RevokeLicenseRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

func NewLicenseHandler(licenseService *services.LicenseService) *LicenseHandler {
	return &LicenseHandler{
		licenseService: licenseService,
	}
}

// POST /licenses
func (h *LicenseHandler) CreateLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := currentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req CreateLicenseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	license, err := h.licenseService.CreateLicense(c.Request.Context(), req.PlanID, actor.ID, req.UserID, req.Notes)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseCreated),
		"license": license,
	})
}

// POST /licenses/bulk
func (h *LicenseHandler) BulkCreateLicenses(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := currentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req BulkCreateLicensesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	licenses, err := h.licenseService.BulkGenerateLicenses(c.Request.Context(), req.PlanID, req.Count, actor.ID)
	if err != nil && len(licenses) == 0 {
		respondLicenseError(c, err)
		return
	}

	body := gin.H{
		"message":   i18n.T(lang, i18n.KeyLicenseBulkCreated, len(licenses)),
		"licenses":  licenses,
		"requested": req.Count,
		"created":   len(licenses),
	}
	if err != nil {
		body["error"] = errorMessage(lang, err)
	}
	utils.CreatedResponse(c, body)
}

// POST /licenses/activate
func (h *LicenseHandler) ActivateLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := utils.GetUserUUIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req ActivateLicenseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	license, err := h.licenseService.ActivateLicense(c.Request.Context(), req.LicenseKey, userID, req.DeviceID)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseActivated),
		"license": license,
	})
}

// GET /licenses/validate?license_key=...&device_id=...
func (h *LicenseHandler) ValidateLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	key := c.Query("license_key")
	if key == "" {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "license_key"), nil)
		return
	}

	result := h.licenseService.ValidateLicense(c.Request.Context(), key, c.Query("device_id"))
	if result.IsValid {
		result.Message = i18n.T(lang, i18n.KeyLicenseValid)
	}

	utils.SuccessResponse(c, result)
}

// GET /licenses/stats
func (h *LicenseHandler) GetStats(c *gin.Context) {
	stats, err := h.licenseService.GetStats(c.Request.Context())
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"stats": stats,
	})
}

// GET /licenses
func (h *LicenseHandler) ListLicenses(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := currentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	params := utils.GetPaginationParams(c)

	var filter services.LicenseFilter
	if status := c.Query("status"); status != "" {
		s := models.LicenseStatus(status)
		if !s.Valid() {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "status"), nil)
			return
		}
		filter.Status = &s
	}

	for param, target := range map[string]**uuid.UUID{
		"user_id":  &filter.UserID,
		"plan_id":  &filter.PlanID,
		"agent_id": &filter.AgentID,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, param), nil)
			return
		}
		*target = &id
	}

	licenses, total, err := h.licenseService.ListLicenses(c.Request.Context(), actor, filter, params)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	result := utils.CreatePaginationResult(licenses, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /licenses/:id
func (h *LicenseHandler) GetLicense(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	id, ok := licenseIDParam(c)
	if !ok {
		return
	}

	license, err := h.licenseService.GetLicense(c.Request.Context(), actor, id)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"license": license,
	})
}

// PUT /licenses/:id
func (h *LicenseHandler) UpdateLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := currentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	id, ok := licenseIDParam(c)
	if !ok {
		return
	}

	var req services.UpdateLicenseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	license, err := h.licenseService.UpdateLicense(c.Request.Context(), actor, id, &req)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseUpdated),
		"license": license,
	})
}

// DELETE /licenses/:id/revoke
func (h *LicenseHandler) RevokeLicense(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	actor, ok := currentActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	id, ok := licenseIDParam(c)
	if !ok {
		return
	}

	// The body is optional on DELETE.
	var req RevokeLicenseRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	if !actor.IsAdmin() {
		existing, err := h.licenseService.GetLicense(c.Request.Context(), actor, id)
		if err != nil {
			respondLicenseError(c, err)
			return
		}
		if !actor.CanModify(existing) {
			respondLicenseError(c, services.ErrLicenseAccessDenied)
			return
		}
	}

	license, err := h.licenseService.RevokeLicense(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondLicenseError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyLicenseRevoked),
		"license": license,
	})
}

func licenseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		lang := utils.GetLangFromContext(c)
		utils.ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", i18n.T(lang, i18n.KeyValidationInvalid, "license id"), nil)
		return uuid.Nil, false
	}
	return id, true
}
