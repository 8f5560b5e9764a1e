package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forgecli/internal/license"
)

func TestFromLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no license",
			err:        license.ErrNoLicense,
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNoLicense,
		},
		{
			name:       "tier not licensed",
			err:        fmt.Errorf("%w: pro requested", license.ErrTierNotLicensed),
			wantStatus: http.StatusForbidden,
			wantCode:   CodeTierNotLicensed,
		},
		{
			name:       "untrusted verifier",
			err:        fmt.Errorf("%w: host evil.example", license.ErrUntrustedVerifier),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeUntrustedVerifier,
		},
		{
			name:       "verifier unreachable",
			err:        &license.VerifyError{Kind: license.VerifyErrNetwork, Err: errors.New("timeout")},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeVerifierUnreachable,
		},
		{
			name:       "verifier protocol error",
			err:        &license.VerifyError{Kind: license.VerifyErrProtocol, Err: errors.New("bad json")},
			wantStatus: http.StatusBadGateway,
			wantCode:   CodeVerifierProtocol,
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_SERVER_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromLicenseError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
		})
	}

	assert.Nil(t, FromLicenseError(nil))
}

func TestFromLicenseError_NeverLeaksWrappedDetail(t *testing.T) {
	err := &license.VerifyError{
		Kind: license.VerifyErrNetwork,
		Err:  errors.New("dial tcp 10.0.0.5:443: connection refused"),
	}
	apiErr := FromLicenseError(err)
	assert.NotContains(t, apiErr.Message, "10.0.0.5")
}
