package verify

import (
	"sort"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Strategy checks a signature over signingInput with key.
// golang-jwt signing methods satisfy it directly.
type Strategy interface {
	Verify(signingInput string, sig []byte, key any) error
}

// Registry maps an algorithm name to its Strategy. Treat it as read-only
// once built.
type Registry map[string]Strategy

var defaultRegistry = Registry{
	"HS256": jwt.SigningMethodHS256,
	"HS384": jwt.SigningMethodHS384,
	"HS512": jwt.SigningMethodHS512,
	"RS256": jwt.SigningMethodRS256,
	"RS384": jwt.SigningMethodRS384,
	"RS512": jwt.SigningMethodRS512,
}

// DefaultRegistry returns a copy of the built-in HMAC-SHA2 and RSA-SHA2 table.
func DefaultRegistry() Registry {
	out := make(Registry, len(defaultRegistry))
	for k, v := range defaultRegistry {
		out[k] = v
	}
	return out
}

// Lookup returns the strategy for alg.
func (r Registry) Lookup(alg string) (Strategy, bool) {
	s, ok := r[alg]
	return s, ok && s != nil
}

// Algorithms lists the registered names in sorted order.
func (r Registry) Algorithms() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Supported reports whether alg is in the built-in table.
func Supported(alg string) bool {
	_, ok := defaultRegistry.Lookup(alg)
	return ok
}
