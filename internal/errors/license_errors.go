package errors

import (
	"errors"
	"net/http"

	"forgecli/internal/license"
)

// Error codes for license operations
const (
	CodeNoLicense           = "NO_LICENSE"
	CodeLicenseExpired      = "LICENSE_EXPIRED"
	CodeLicenseInvalid      = "LICENSE_INVALID"
	CodeTierNotLicensed     = "TIER_NOT_LICENSED"
	CodeUntrustedVerifier   = "UNTRUSTED_VERIFIER"
	CodeVerifierProtocol    = "VERIFIER_PROTOCOL_ERROR"
	CodeVerifierUnreachable = "VERIFIER_UNREACHABLE"
)

// Common license error responses
var (
	ErrNoLicense = New(http.StatusNotFound, CodeNoLicense,
		"No license is installed; running at community tier")

	ErrLicenseExpired = New(http.StatusForbidden, CodeLicenseExpired,
		"The license has expired; renew to restore paid features")

	ErrLicenseInvalid = New(http.StatusForbidden, CodeLicenseInvalid,
		"The installed license failed validation")
)

// FromLicenseError maps an entitlement-core error onto an API error without
// leaking token or key material.
func FromLicenseError(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, license.ErrNoLicense):
		return ErrNoLicense
	case errors.Is(err, license.ErrTierNotLicensed):
		return New(http.StatusForbidden, CodeTierNotLicensed, err.Error())
	case errors.Is(err, license.ErrUntrustedVerifier):
		return New(http.StatusInternalServerError, CodeUntrustedVerifier,
			"The configured verifier URL is not trusted")
	}

	if ve, ok := license.AsVerifyError(err); ok {
		switch ve.Kind {
		case license.VerifyErrUntrustedURL:
			return New(http.StatusInternalServerError, CodeUntrustedVerifier,
				"The configured verifier URL is not trusted")
		case license.VerifyErrProtocol:
			return New(http.StatusBadGateway, CodeVerifierProtocol,
				"The verifier returned an unusable response")
		default:
			return New(http.StatusServiceUnavailable, CodeVerifierUnreachable,
				"The license verifier is unreachable")
		}
	}
	return InternalError("License operation failed")
}
