package verify

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/PaulFidika/appleauth/keyset"
	"github.com/sirupsen/logrus"
)

// ClaimSet is the payload of a token whose signature has been verified.
// Numeric claims are json.Number.
type ClaimSet map[string]any

// Verifier checks algorithm policy, signature and temporal claims.
// It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	registry Registry
	log      logrus.FieldLogger
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithRegistry replaces the algorithm table.
func WithRegistry(r Registry) VerifierOpt {
	return func(v *Verifier) {
		if r != nil {
			v.registry = r
		}
	}
}

// WithLog sets the logger used for rejected tokens.
func WithLog(l logrus.FieldLogger) VerifierOpt {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// NewVerifier builds a Verifier over DefaultRegistry.
func NewVerifier(opts ...VerifierOpt) *Verifier {
	v := &Verifier{registry: DefaultRegistry(), log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var std = NewVerifier()

// Verify runs the package-level Verifier.
func Verify(tok *jwtkit.Token, key keyset.KeyDescriptor, allowed []string, cfg Config) (ClaimSet, error) {
	return std.Verify(tok, key, allowed, cfg)
}

// Verify checks tok against key and returns its claims. Checks run in a fixed
// order and the first failure ends the call: key present, alg present, alg in
// allowed, alg registered, signature, nbf, iat, exp.
func (v *Verifier) Verify(tok *jwtkit.Token, key keyset.KeyDescriptor, allowed []string, cfg Config) (ClaimSet, error) {
	claims, err := v.verify(tok, key, allowed, cfg)
	if err != nil {
		v.log.WithFields(logrus.Fields{
			"kid":  key.KeyID,
			"alg":  tok.Algorithm(),
			"kind": Kind(err),
		}).Debug("token rejected")
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) verify(tok *jwtkit.Token, key keyset.KeyDescriptor, allowed []string, cfg Config) (ClaimSet, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: nil token", jwtkit.ErrTokenMalformed)
	}
	if emptyMaterial(key.Material) {
		return nil, ErrInvalidKey
	}
	alg := tok.Algorithm()
	if alg == "" {
		return nil, ErrInvalidAlgorithm
	}
	// The token names its own algorithm; only the caller's list decides
	// whether that is acceptable.
	if !slices.Contains(allowed, alg) {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotAllowed, alg)
	}
	strategy, ok := v.registry.Lookup(alg)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotSupported, alg)
	}
	if err := strategy.Verify(tok.SigningInput, tok.Signature, key.Material); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	now, leeway := cfg.now(), cfg.leeway()
	latest, earliest := addSat(now, leeway), addSat(now, -leeway)
	if nbf, ok, err := epochClaim(tok.Claims, "nbf"); err != nil {
		return nil, err
	} else if ok && nbf > latest {
		return nil, fmt.Errorf("%w: nbf %d", ErrTokenNotYetValid, nbf)
	}
	// Catches forward-dated tokens that omit nbf.
	if iat, ok, err := epochClaim(tok.Claims, "iat"); err != nil {
		return nil, err
	} else if ok && iat > latest {
		return nil, fmt.Errorf("%w: iat %d", ErrTokenNotYetValid, iat)
	}
	if exp, ok, err := epochClaim(tok.Claims, "exp"); err != nil {
		return nil, err
	} else if ok && earliest >= exp {
		return nil, fmt.Errorf("%w: exp %d", ErrTokenExpired, exp)
	}

	out := make(ClaimSet, len(tok.Claims))
	for k, val := range tok.Claims {
		out[k] = val
	}
	return out, nil
}

// epochClaim reads a claim as whole epoch seconds. Fractions are truncated.
// A null value counts as absent.
func epochClaim(claims map[string]any, name string) (int64, bool, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	var f float64
	switch n := raw.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true, nil
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s", ErrClaimInvalid, name)
		}
		f = parsed
	case float64:
		f = n
	case int64:
		return n, true, nil
	case int:
		return int64(n), true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s", ErrClaimInvalid, name)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false, fmt.Errorf("%w: %s", ErrClaimInvalid, name)
	}
	return int64(f), true, nil
}

// addSat returns a+b clamped to the int64 range.
func addSat(a, b int64) int64 {
	s := a + b
	switch {
	case b > 0 && s < a:
		return math.MaxInt64
	case b < 0 && s > a:
		return math.MinInt64
	}
	return s
}

func emptyMaterial(m any) bool {
	switch k := m.(type) {
	case nil:
		return true
	case []byte:
		return len(k) == 0
	case string:
		return k == ""
	case *rsa.PublicKey:
		return k == nil || k.N == nil
	default:
		return false
	}
}

// Int64 reads a numeric claim as an integer.
func (c ClaimSet) Int64(name string) (int64, bool) {
	v, ok, err := epochClaim(c, name)
	return v, ok && err == nil
}

// String reads a string claim.
func (c ClaimSet) String(name string) (string, bool) {
	s, ok := c[name].(string)
	return s, ok
}
