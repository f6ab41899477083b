// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAuthTokenExpired = "auth.token_expired"
	KeyAuthInvalidKey   = "auth.invalid_api_key"

	// Admin
	KeyAdminAccessDenied = "admin.access_denied"

	// Popups
	KeyPopupNotFound = "popup.not_found"

	// Applications
	KeyApplicationNotFound        = "application.not_found"
	KeyApplicationForbidden       = "application.forbidden"
	KeyApplicationExists          = "application.exists"
	KeyApplicationInvalidState    = "application.invalid_state"
	KeyApplicationPaymentRequired = "application.payment_required"

	// Fee payments
	KeyFeePaymentNotFound    = "fee_payment.not_found"
	KeyFeeNotRequired        = "fee_payment.not_required"
	KeyFeeAlreadyPaid        = "fee_payment.already_paid"
	KeyFeeProviderFailed     = "fee_payment.provider_failed"
	KeyWebhookInvalidPayload = "webhook.invalid_payload"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Errors
	KeyInternalError      = "error.internal"
	KeyRateLimitExceeded  = "error.rate_limited"
	KeyServiceUnavailable = "error.unavailable"
)
