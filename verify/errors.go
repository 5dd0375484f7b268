package verify

import (
	"errors"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/PaulFidika/appleauth/keyset"
)

var (
	ErrInvalidKey            = errors.New("verify: key may not be empty")
	ErrInvalidAlgorithm      = errors.New("verify: empty algorithm")
	ErrAlgorithmNotAllowed   = errors.New("verify: algorithm not allowed")
	ErrAlgorithmNotSupported = errors.New("verify: algorithm not supported")
	ErrSignatureInvalid      = errors.New("verify: signature verification failed")
	ErrTokenNotYetValid      = errors.New("verify: token not yet valid")
	ErrTokenExpired          = errors.New("verify: token expired")
	// ErrClaimInvalid means nbf, iat or exp is present but not a number.
	ErrClaimInvalid = errors.New("verify: temporal claim is not a number")
)

var kinds = []struct {
	err  error
	name string
}{
	{keyset.ErrKeySetMalformed, "key_set_malformed"},
	{keyset.ErrKeyNotFound, "key_not_found"},
	{keyset.ErrKeyMaterialInvalid, "key_material_invalid"},
	{jwtkit.ErrTokenMalformed, "token_malformed"},
	{ErrInvalidKey, "invalid_key"},
	{ErrInvalidAlgorithm, "invalid_algorithm"},
	{ErrAlgorithmNotAllowed, "algorithm_not_allowed"},
	{ErrAlgorithmNotSupported, "algorithm_not_supported"},
	{ErrSignatureInvalid, "signature_invalid"},
	{ErrTokenNotYetValid, "token_not_yet_valid"},
	{ErrTokenExpired, "token_expired"},
	{ErrClaimInvalid, "claim_invalid"},
}

// Kind returns a stable snake_case name for a verification or key
// resolution failure, or "" when err is none of them.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// Retryable reports whether refetching the key set might turn err into a success:
// an unknown key id, or a key set that was unusable when cached. Everything else
// is final for this token.
func Retryable(err error) bool {
	return errors.Is(err, keyset.ErrKeyNotFound) || errors.Is(err, keyset.ErrKeySetMalformed)
}
