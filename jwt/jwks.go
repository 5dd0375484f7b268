package jwtkit

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
)

// JWK minimal fields for RSA public keys and symmetric (oct) keys.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"` // base64url
	E   string `json:"e,omitempty"` // base64url
	K   string `json:"k,omitempty"` // base64url, oct keys only
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// RSAPublicToJWK converts an RSA public key to a JWK.
func RSAPublicToJWK(pub *rsa.PublicKey, kid, alg string) JWK {
	n := base64URLEncode(pub.N)
	e := base64URLEncode(big.NewInt(int64(pub.E)))
	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: alg, N: n, E: e}
}

// SymmetricToJWK converts an HMAC secret to an oct JWK.
func SymmetricToJWK(secret []byte, kid, alg string) JWK {
	return JWK{Kty: "oct", Use: "sig", Kid: kid, Alg: alg, K: base64.RawURLEncoding.EncodeToString(secret)}
}

// ServeJWKS writes JWKS JSON to the ResponseWriter.
func ServeJWKS(w http.ResponseWriter, r *http.Request, ks JWKS) {
	// Marshal first to compute a stable ETag and set cache headers
	b, _ := json.Marshal(ks)
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""

	// Conditional GET support
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

func base64URLEncode(i *big.Int) string {
	b := i.Bytes()
	// Remove leading zeros for canonical form
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Document is a decoded key-set document as published by an issuer.
// Entries keep their original JSON so the key description can be handed
// to a key parser untouched.
type Document struct {
	Keys []Entry `json:"keys"`
}

// Entry is one published key. Only the fields needed for lookup are decoded.
type Entry struct {
	Kid string
	Alg string
	Kty string
	Raw json.RawMessage
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var hdr struct {
		Kid string `json:"kid"`
		Alg string `json:"alg"`
		Kty string `json:"kty"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return err
	}
	e.Kid, e.Alg, e.Kty = hdr.Kid, hdr.Alg, hdr.Kty
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return nil, errors.New("jwt: key entry has no raw description")
	}
	return e.Raw, nil
}

// ParseDocument decodes a key-set document. A document without a "keys"
// member decodes to an empty Document; deciding whether that is acceptable
// is left to the caller.
func ParseDocument(b []byte) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DocumentFromJWKS builds a Document from keys this package produced.
func DocumentFromJWKS(ks JWKS) (*Document, error) {
	b, err := json.Marshal(ks)
	if err != nil {
		return nil, err
	}
	return ParseDocument(b)
}
