// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess           = "success"
	KeyRateLimitExceeded = "rate_limit.exceeded"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserExists         = "auth.user_exists"
	KeyAuthAccountDisabled    = "auth.account_disabled"
	KeyAuthPasswordIncorrect  = "auth.password_incorrect"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAuthRegisterSuccess    = "auth.register_success"

	// User Management
	KeyUserProfileUpdated = "user.profile_updated"
	KeyUserNotFound       = "user.not_found"

	// Plans
	KeyPlanCreated  = "plan.created"
	KeyPlanNotFound = "plan.not_found"
	KeyPlanExists   = "plan.exists"

	// Licenses
	KeyLicenseCreated        = "license.created"
	KeyLicenseBulkCreated    = "license.bulk_created"
	KeyLicenseActivated      = "license.activated"
	KeyLicenseUpdated        = "license.updated"
	KeyLicenseRevoked        = "license.revoked"
	KeyLicenseNotFound       = "license.not_found"
	KeyLicenseExpired        = "license.expired"
	KeyLicenseInvalid        = "license.invalid"
	KeyLicenseValid          = "license.valid"
	KeyLicenseInUse          = "license.in_use"
	KeyLicenseAlreadyRevoked = "license.already_revoked"
	KeyLicenseActiveExists   = "license.active_exists"
	KeyLicenseDeviceLimit    = "license.device_limit"
	KeyLicenseInvalidState   = "license.invalid_state"
	KeyLicenseAccessDenied   = "license.access_denied"
	KeyLicenseBadExpiration  = "license.bad_expiration"

	// Routing
	KeyRouteNotFound = "route.not_found"

	// Admin
	KeyAdminAccessDenied = "admin.access_denied"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"
)
