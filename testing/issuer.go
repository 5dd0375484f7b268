// Package testing provides a fake identity token issuer for tests of code
// that uses appleauth. It serves a key-set document over HTTP and signs
// tokens that verify against it.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	dec := appleid.NewDecoder(keyset.NewSource(keyset.NewHTTPFetcher(issuer.JWKSURL())), appleid.Config{ClientID: issuer.Audience()})
//	token := issuer.CreateToken("user-123", "test@example.com")
package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWKSPath is where the issuer serves its key set.
const JWKSPath = "/auth/keys"

// TestIssuer runs an HTTP server publishing one RSA key (RS256) and one
// HMAC key (HS256), and signs tokens with either.
type TestIssuer struct {
	server   *httptest.Server
	rsaKey   *rsa.PrivateKey
	rsaKID   string
	hmacKey  []byte
	hmacKID  string
	issuer   string
	audience string
	hits     atomic.Int64

	mu    sync.Mutex
	extra []jwtkit.JWK
}

// NewTestIssuer creates an issuer with audience "test-app".
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("test-app")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("failed to create RSA key: " + err.Error())
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to create HMAC key: " + err.Error())
	}
	ti := &TestIssuer{
		rsaKey:   key,
		rsaKID:   "rsa-" + uuid.NewString(),
		hmacKey:  secret,
		hmacKID:  "hmac-" + uuid.NewString(),
		issuer:   "https://appleid.apple.com",
		audience: audience,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the test server.
func (ti *TestIssuer) URL() string { return ti.server.URL }

// JWKSURL returns the key-set document URL.
func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + JWKSPath }

// Issuer returns the iss placed in tokens.
func (ti *TestIssuer) Issuer() string { return ti.issuer }

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string { return ti.audience }

// RSAKeyID and HMACKeyID return the published key ids.
func (ti *TestIssuer) RSAKeyID() string  { return ti.rsaKID }
func (ti *TestIssuer) HMACKeyID() string { return ti.hmacKID }

// Hits returns how many times the key set was served.
func (ti *TestIssuer) Hits() int64 { return ti.hits.Load() }

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// Publish adds an extra entry to the served key set, e.g. a duplicate kid or
// a rotated key.
func (ti *TestIssuer) Publish(k jwtkit.JWK) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.extra = append(ti.extra, k)
}

// JWKS returns the key set exactly as served.
func (ti *TestIssuer) JWKS() jwtkit.JWKS {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	keys := []jwtkit.JWK{
		jwtkit.RSAPublicToJWK(&ti.rsaKey.PublicKey, ti.rsaKID, jwt.SigningMethodRS256.Alg()),
		jwtkit.SymmetricToJWK(ti.hmacKey, ti.hmacKID, jwt.SigningMethodHS256.Alg()),
	}
	return jwtkit.JWKS{Keys: append(keys, ti.extra...)}
}

// Document returns the served key set decoded, for use without HTTP.
func (ti *TestIssuer) Document() *jwtkit.Document {
	doc, err := jwtkit.DocumentFromJWKS(ti.JWKS())
	if err != nil {
		panic("failed to build key-set document: " + err.Error())
	}
	return doc
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.hits.Add(1)
	jwtkit.ServeJWKS(w, r, ti.JWKS())
}

// CreateToken creates an RS256 token for userID valid for an hour.
func (ti *TestIssuer) CreateToken(userID, email string) string {
	return ti.CreateTokenWithClaims(userID, email, nil)
}

// CreateTokenWithClaims creates an RS256 token; extraClaims override the defaults
// (sub, email, iss, aud, exp, iat). A nil value removes the claim.
func (ti *TestIssuer) CreateTokenWithClaims(userID, email string, extraClaims map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iss":   ti.issuer,
		"aud":   ti.audience,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
	}
	for k, v := range extraClaims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return ti.SignRS256(claims)
}

// CreateExpiredToken creates a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(userID, email string) string {
	return ti.CreateTokenWithClaims(userID, email, map[string]any{
		"exp": time.Now().Add(-time.Hour).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})
}

// SignRS256 signs claims verbatim with the RSA key.
func (ti *TestIssuer) SignRS256(claims jwt.MapClaims) string {
	return ti.Sign(jwt.SigningMethodRS256, ti.rsaKID, ti.rsaKey, claims)
}

// SignHS256 signs claims verbatim with the HMAC key.
func (ti *TestIssuer) SignHS256(claims jwt.MapClaims) string {
	return ti.Sign(jwt.SigningMethodHS256, ti.hmacKID, ti.hmacKey, claims)
}

// Sign signs claims with any method and key, setting kid when non-empty.
func (ti *TestIssuer) Sign(method jwt.SigningMethod, kid string, key any, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return s
}

// RSAPrivateKey exposes the signing key for tests that build tokens by hand.
func (ti *TestIssuer) RSAPrivateKey() *rsa.PrivateKey { return ti.rsaKey }

// HMACSecret exposes the HMAC secret.
func (ti *TestIssuer) HMACSecret() []byte { return ti.hmacKey }
