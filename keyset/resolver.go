package keyset

import (
	"errors"
	"fmt"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
)

var (
	// ErrKeySetMalformed means the document has no usable key list, or lists
	// the requested key id more than once.
	ErrKeySetMalformed = errors.New("keyset: malformed key set")
	// ErrKeyNotFound means no entry carries the requested key id.
	ErrKeyNotFound = errors.New("keyset: key not found")
	// ErrKeyMaterialInvalid means the matching entry could not be turned into a key.
	ErrKeyMaterialInvalid = errors.New("keyset: invalid key material")
)

// KeyDescriptor is a resolved signing key together with the algorithm
// the publisher declared for it.
type KeyDescriptor struct {
	KeyID     string
	Algorithm string
	Material  any // *rsa.PublicKey or []byte
}

// Resolver looks up a key id in an already fetched document.
type Resolver struct {
	parser MaterialParser
}

// NewResolver returns a Resolver. A nil parser selects JWKParser.
func NewResolver(p MaterialParser) *Resolver {
	if p == nil {
		p = JWKParser{}
	}
	return &Resolver{parser: p}
}

// Resolve finds the entry whose kid equals keyID exactly and converts it.
// It never fetches and never falls back to a different key.
func (r *Resolver) Resolve(keyID string, doc *jwtkit.Document) (KeyDescriptor, error) {
	if doc == nil || len(doc.Keys) == 0 {
		return KeyDescriptor{}, fmt.Errorf("%w: no keys", ErrKeySetMalformed)
	}
	if keyID == "" {
		return KeyDescriptor{}, fmt.Errorf("%w: empty kid", ErrKeyNotFound)
	}
	var match *jwtkit.Entry
	for i := range doc.Keys {
		if doc.Keys[i].Kid != keyID {
			continue
		}
		if match != nil {
			return KeyDescriptor{}, fmt.Errorf("%w: duplicate kid %q", ErrKeySetMalformed, keyID)
		}
		match = &doc.Keys[i]
	}
	if match == nil {
		return KeyDescriptor{}, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
	}
	material, err := r.parser.ParseMaterial(*match)
	if err != nil {
		return KeyDescriptor{}, fmt.Errorf("%w: kid %q: %v", ErrKeyMaterialInvalid, keyID, err)
	}
	if material == nil {
		return KeyDescriptor{}, fmt.Errorf("%w: kid %q: empty key", ErrKeyMaterialInvalid, keyID)
	}
	return KeyDescriptor{KeyID: keyID, Algorithm: match.Alg, Material: material}, nil
}
