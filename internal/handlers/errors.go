// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

// Specific errors with their own translated message.
var errorMessageKeys = []struct {
	err error
	key string
}{
	{services.ErrLicenseNotFound, i18n.KeyLicenseNotFound},
	{services.ErrPlanNotFound, i18n.KeyPlanNotFound},
	{services.ErrUserNotFound, i18n.KeyUserNotFound},
	{services.ErrLicenseRevoked, i18n.KeyLicenseInvalidState},
	{services.ErrLicenseExpired, i18n.KeyLicenseExpired},
	{services.ErrActiveLicenseExists, i18n.KeyLicenseActiveExists},
	{services.ErrLicenseInUse, i18n.KeyLicenseInUse},
	{services.ErrLicenseAlreadyRevoked, i18n.KeyLicenseAlreadyRevoked},
	{services.ErrInvalidTransition, i18n.KeyLicenseInvalidState},
	{services.ErrInvalidLicenseKey, i18n.KeyLicenseInvalid},
	{services.ErrDeviceLimitReached, i18n.KeyLicenseDeviceLimit},
	{services.ErrLicenseAccessDenied, i18n.KeyLicenseAccessDenied},
	{services.ErrPlanExists, i18n.KeyPlanExists},
	{services.ErrInvalidExpiration, i18n.KeyLicenseBadExpiration},
}

func errorMessage(lang string, err error) string {
	for _, m := range errorMessageKeys {
		if errors.Is(err, m.err) {
			return i18n.T(lang, m.key)
		}
	}
	return err.Error()
}

// respondLicenseError writes the error response for an error returned by the
// license, plan or user services.
func respondLicenseError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)
	message := errorMessage(lang, err)

	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", message, nil)
	case errors.Is(err, services.ErrForbidden):
		utils.ForbiddenResponse(c, message)
	case errors.Is(err, services.ErrInvalidState):
		utils.ConflictResponse(c, message)
	case errors.Is(err, services.ErrInvalidCount):
		utils.BadRequestResponse(c, message, nil)
	case errors.Is(err, services.ErrValidationFailed):
		utils.UnprocessableResponse(c, message)
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

// respondAuthError maps authentication and profile errors.
func respondAuthError(c *gin.Context, err error) {
	lang := utils.GetLangFromContext(c)

	switch {
	case errors.Is(err, services.ErrEmailTaken):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyAuthUserExists))
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidCredentials))
	case errors.Is(err, services.ErrInvalidRefreshToken):
		utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
	case errors.Is(err, services.ErrAccountDisabled):
		utils.ForbiddenResponse(c, i18n.T(lang, i18n.KeyAuthAccountDisabled))
	case errors.Is(err, services.ErrRoleNotAllowed):
		utils.ForbiddenResponse(c, "")
	case errors.Is(err, services.ErrIncorrectPassword):
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyAuthPasswordIncorrect), nil)
	default:
		respondLicenseError(c, err)
	}
}

// bindAndValidate binds the JSON body into req and runs struct validation,
// writing the error response itself when either fails.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)

	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

func currentActor(c *gin.Context) (services.Actor, bool) {
	id, ok := utils.GetUserUUIDFromContext(c)
	if !ok {
		return services.Actor{}, false
	}
	role, _ := utils.GetUserRoleFromContext(c)
	return services.Actor{ID: id, Role: models.UserRole(role)}, true
}
