package appleid

import (
	"errors"

	"github.com/PaulFidika/appleauth/verify"
)

// ReasonKeySetUnavailable is reported when the key set could not be obtained.
// It describes the server side, not the token.
const ReasonKeySetUnavailable = "key_set_unavailable"

// Reason maps a Decode error to a stable snake_case string suitable for
// clients and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingKeyID):
		return "missing_kid"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	}
	if k := verify.Kind(err); k != "" {
		return k
	}
	return ReasonKeySetUnavailable
}

// Unavailable reports whether err is the key publisher's fault rather than the
// token's: the set could not be fetched, or what was published is unusable.
// Adapters answer these with 503 instead of 401.
func Unavailable(err error) bool {
	switch Reason(err) {
	case ReasonKeySetUnavailable, "key_set_malformed", "key_material_invalid":
		return true
	}
	return false
}
