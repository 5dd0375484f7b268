package jwtkit

import (
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrTokenMalformed is returned when a raw token cannot be split or decoded.
var ErrTokenMalformed = errors.New("jwt: token malformed")

// Token is a structurally decoded compact JWS. Nothing in it is authenticated:
// Header and Claims are exactly what the sender wrote.
type Token struct {
	Raw          string
	Header       map[string]any
	Claims       map[string]any
	SigningInput string // base64url(header) + "." + base64url(payload), as received
	Signature    []byte
}

var parser = jwt.NewParser(jwt.WithJSONNumber())

// Parse splits and decodes a compact token without verifying it.
// Numeric claims are kept as json.Number so they survive re-serialization unchanged.
func Parse(raw string) (*Token, error) {
	claims := jwt.MapClaims{}
	parsed, parts, err := parser.ParseUnverified(raw, claims)
	// An unknown or missing alg is not a structural problem; the verifier
	// decides what to do with it.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if parsed == nil || len(parts) != 3 {
		return nil, ErrTokenMalformed
	}
	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrTokenMalformed, err)
	}
	header := parsed.Header
	if header == nil {
		header = map[string]any{}
	}
	return &Token{
		Raw:          raw,
		Header:       header,
		Claims:       claims,
		SigningInput: parts[0] + "." + parts[1],
		Signature:    sig,
	}, nil
}

// Algorithm returns the self-declared "alg" header, or "" when absent or not a string.
func (t *Token) Algorithm() string { return t.headerString("alg") }

// KeyID returns the "kid" header, or "" when absent or not a string.
func (t *Token) KeyID() string { return t.headerString("kid") }

func (t *Token) headerString(name string) string {
	if t == nil {
		return ""
	}
	s, _ := t.Header[name].(string)
	return s
}

// HasClaim reports whether the payload carries the named claim at all.
func (t *Token) HasClaim(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.Claims[name]
	return ok
}
