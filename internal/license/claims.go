package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Tier is a monotonic capability level granted by a license.
type Tier string

const (
	TierCommunity  Tier = "community"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Rank returns the ordinal capability level of the tier. Unknown values rank
// as community.
func (t Tier) Rank() int {
	switch t {
	case TierPro:
		return 1
	case TierEnterprise:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether the tier grants at least the capability level of
// other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// Paid reports whether the tier requires a substantiated license.
func (t Tier) Paid() bool {
	return t.Rank() > 0
}

// ParseTier validates a tier string from a token claim or verifier response.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierCommunity, TierPro, TierEnterprise:
		return Tier(s), nil
	}
	return TierCommunity, fmt.Errorf("unknown tier %q", s)
}

// MinTier returns the lower-ranked of two tiers.
func MinTier(a, b Tier) Tier {
	if a.Rank() <= b.Rank() {
		return a
	}
	return b
}

// Claims are the claims carried by a signed license token. Custom claims sit
// alongside the registered set; Subject holds the customer ID.
type Claims struct {
	Tier         string   `json:"tier"`
	Features     []string `json:"features,omitempty"`
	Organization string   `json:"org,omitempty"`
	Seats        int      `json:"seats,omitempty"`
	jwt.RegisteredClaims
}

// TokenHash returns the hex SHA-256 of a license token. Tokens are referenced
// externally only through this hash, never in full.
func TokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenHashHint returns a truncated token hash for log and error correlation.
func TokenHashHint(token string) string {
	if token == "" {
		return ""
	}
	return TokenHash(token)[:16]
}

// MaskToken masks a token for display while keeping a recognizable prefix.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
