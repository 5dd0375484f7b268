package keyset

import (
	"crypto/rsa"
	"fmt"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// MaterialParser turns a published key description into key material
// usable by a signature strategy.
type MaterialParser interface {
	ParseMaterial(e jwtkit.Entry) (any, error)
}

// MaterialParserFunc adapts a function to MaterialParser.
type MaterialParserFunc func(e jwtkit.Entry) (any, error)

func (f MaterialParserFunc) ParseMaterial(e jwtkit.Entry) (any, error) { return f(e) }

// JWKParser parses RSA and oct JWKs. Private RSA keys are reduced to their
// public half; other key types are rejected.
type JWKParser struct{}

func (JWKParser) ParseMaterial(e jwtkit.Entry) (any, error) {
	key, err := jwk.ParseKey(e.Raw)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, err
	}
	switch k := raw.(type) {
	case *rsa.PublicKey:
		if k == nil || k.N == nil || k.N.Sign() == 0 {
			return nil, fmt.Errorf("rsa key has no modulus")
		}
		return k, nil
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case []byte:
		if len(k) == 0 {
			return nil, fmt.Errorf("oct key is empty")
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", key.KeyType())
	}
}
