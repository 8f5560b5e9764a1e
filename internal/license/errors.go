package license

import (
	"errors"
	"fmt"
)

// Sentinel errors for license operations
var (
	// ErrNoLicense indicates no license token is installed. Not fatal on its
	// own: absence of proof resolves to the community tier.
	ErrNoLicense = errors.New("no license token found")

	// ErrTierNotLicensed is the one loud failure in the system: a paid tier
	// was explicitly requested and could not be substantiated.
	ErrTierNotLicensed = errors.New("requested tier is not licensed")

	// ErrUntrustedVerifier indicates the configured verifier URL is not on
	// the allow-list or uses a forbidden scheme. Raised at construction,
	// before any network call.
	ErrUntrustedVerifier = errors.New("untrusted verifier URL")

	// ErrSymmetricNotAllowed guards the development-only symmetric signing
	// mode from shipping to production without an explicit opt-in.
	ErrSymmetricNotAllowed = errors.New("symmetric license signing is development-only; set allow_symmetric to opt in")
)

// VerifyErrorKind tags remote verification failures so callers can match them
// exhaustively instead of catching a broad error class.
type VerifyErrorKind int

const (
	// VerifyErrNetwork covers timeouts, DNS failures, refused connections
	// and 5xx responses. Retryable.
	VerifyErrNetwork VerifyErrorKind = iota
	// VerifyErrProtocol covers non-retryable HTTP statuses and malformed
	// response bodies.
	VerifyErrProtocol
	// VerifyErrUntrustedURL covers allow-list and scheme violations.
	VerifyErrUntrustedURL
)

func (k VerifyErrorKind) String() string {
	switch k {
	case VerifyErrNetwork:
		return "network"
	case VerifyErrProtocol:
		return "protocol"
	case VerifyErrUntrustedURL:
		return "untrusted_url"
	default:
		return "unknown"
	}
}

// VerifyError is returned by the remote verifier client. It carries a
// truncated token-hash hint for operator correlation; the raw token never
// appears in error text.
type VerifyError struct {
	Kind     VerifyErrorKind
	HashHint string
	Err      error
}

func (e *VerifyError) Error() string {
	if e.HashHint != "" {
		return fmt.Sprintf("remote verification failed (%s, token %s...): %v", e.Kind, e.HashHint, e.Err)
	}
	return fmt.Sprintf("remote verification failed (%s): %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// AsVerifyError unwraps err to a VerifyError if one is in its chain.
func AsVerifyError(err error) (*VerifyError, bool) {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
