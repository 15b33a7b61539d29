package domain

// Error is a domain failure carrying a machine-readable code. Services return
// these as sentinels so transport layers can map them without string matching.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError builds an ad-hoc domain error with the given code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrLicenseNotFound           = &Error{Code: "LICENSE_NOT_FOUND", Message: "license not found"}
	ErrLicenseNotFoundForProduct = &Error{Code: "LICENSE_NOT_FOUND_FOR_PRODUCT", Message: "no license found for this product"}
	ErrLicenseExpired            = &Error{Code: "LICENSE_EXPIRED", Message: "license has expired"}
	ErrLicenseSuspended          = &Error{Code: "LICENSE_SUSPENDED", Message: "license is suspended"}
	ErrLicenseRevoked            = &Error{Code: "LICENSE_REVOKED", Message: "license has been revoked"}
	ErrInvalidLicenseState       = &Error{Code: "INVALID_LICENSE_STATE", Message: "operation not allowed in current license state"}
	ErrLicenseAlreadyExists      = &Error{Code: "LICENSE_ALREADY_EXISTS", Message: "a license for this owner and product already exists"}
	ErrAccessDenied              = &Error{Code: "ACCESS_DENIED", Message: "license does not belong to the caller"}
	ErrActivationLimitExceeded   = &Error{Code: "ACTIVATION_LIMIT_EXCEEDED", Message: "maximum device activations reached"}
	ErrActivationNotFound        = &Error{Code: "ACTIVATION_NOT_FOUND", Message: "no activation found for this device"}
	ErrSessionDeactivated        = &Error{Code: "SESSION_DEACTIVATED", Message: "this session has been deactivated"}
	ErrInvalidActivationOwner    = &Error{Code: "INVALID_ACTIVATION_OWNERSHIP", Message: "activation does not belong to this license"}
	ErrAllLicensesFull           = &Error{Code: "ALL_LICENSES_FULL", Message: "all licenses have reached their concurrent session limit"}
	ErrPlanNotAvailable          = &Error{Code: "PLAN_NOT_AVAILABLE", Message: "license plan not found or inactive"}
	ErrProductNotFound           = &Error{Code: "PRODUCT_NOT_FOUND", Message: "product not found"}
	ErrInvalidRequest            = &Error{Code: "INVALID_REQUEST", Message: "invalid request"}
)
