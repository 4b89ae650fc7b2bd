// internal/services/license_errors.go
package services

import "errors"

// Error kinds. Every error returned by the license engine wraps exactly one of
// these, so callers can branch with errors.Is(err, ErrNotFound) and so on.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrValidationFailed = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
)

// LicenseError carries a short machine-readable reason next to its kind.
type LicenseError struct {
	Kind   error
	Reason string
}

func (e *LicenseError) Error() string { return e.Reason }
func (e *LicenseError) Unwrap() error { return e.Kind }

func newLicenseError(kind error, reason string) *LicenseError {
	return &LicenseError{Kind: kind, Reason: reason}
}

var (
	ErrPlanNotFound    = newLicenseError(ErrNotFound, "license plan not found")
	ErrLicenseNotFound = newLicenseError(ErrNotFound, "license not found")
	ErrUserNotFound    = newLicenseError(ErrNotFound, "user not found")

	ErrLicenseRevoked        = newLicenseError(ErrInvalidState, "license has been revoked")
	ErrLicenseExpired        = newLicenseError(ErrInvalidState, "license has expired")
	ErrActiveLicenseExists   = newLicenseError(ErrInvalidState, "user already has an active license for this plan")
	ErrLicenseInUse          = newLicenseError(ErrInvalidState, "license is active for another user")
	ErrLicenseAlreadyRevoked = newLicenseError(ErrInvalidState, "license is already revoked")
	ErrInvalidTransition     = newLicenseError(ErrInvalidState, "status transition not allowed")

	ErrInvalidLicenseKey  = newLicenseError(ErrValidationFailed, "invalid license key")
	ErrDeviceLimitReached = newLicenseError(ErrValidationFailed, "maximum devices reached")
	ErrInvalidCount       = newLicenseError(ErrValidationFailed, "license count out of range")
	ErrInvalidExpiration  = newLicenseError(ErrValidationFailed, "expiration must be after activation and in the future")

	ErrLicenseAccessDenied = newLicenseError(ErrForbidden, "not authorized to access this license")

	// ErrKeyCollision is an internal failure, not one of the kinds above.
	ErrKeyCollision = errors.New("could not generate a unique license key")
)

// Reasons reported in ValidationResult.Reason.
const (
	ReasonInvalidKey   = "invalid_key"
	ReasonNotFound     = "not_found"
	ReasonNotActive    = "not_active"
	ReasonExpired      = "expired"
	ReasonDeviceLimit  = "device_limit"
	ReasonLookupFailed = "lookup_failed"
)
