package appleid

import (
	"strings"

	"github.com/PaulFidika/appleauth/verify"
)

// Payload exposes the verified claims of an Apple identity token.
type Payload struct {
	claims verify.ClaimSet
	raw    string
}

// Subject returns the sub claim, Apple's stable user identifier.
func (p *Payload) Subject() string {
	s, _ := p.claims.String("sub")
	return s
}

// UserID is an alias for Subject.
func (p *Payload) UserID() string { return p.Subject() }

func (p *Payload) Email() string {
	s, _ := p.claims.String("email")
	return s
}

// EmailVerified reports the email_verified claim. Apple has sent it both as
// a JSON bool and as the strings "true"/"false".
func (p *Payload) EmailVerified() bool { return p.flag("email_verified") }

// IsPrivateEmail reports whether Email is an Apple private relay address.
func (p *Payload) IsPrivateEmail() bool { return p.flag("is_private_email") }

// Audience returns the first aud value. Use Audiences when the token may
// name several.
func (p *Payload) Audience() string {
	if aud := p.Audiences(); len(aud) > 0 {
		return aud[0]
	}
	return ""
}

// Audiences returns aud as a list; a single string aud yields one element.
func (p *Payload) Audiences() []string { return audiences(p.claims["aud"]) }

func (p *Payload) Issuer() string {
	s, _ := p.claims.String("iss")
	return s
}

// ExpiresAt returns exp in epoch seconds, or 0 when absent.
func (p *Payload) ExpiresAt() int64 {
	n, _ := p.claims.Int64("exp")
	return n
}

// Get returns a single claim.
func (p *Payload) Get(name string) (any, bool) {
	v, ok := p.claims[name]
	return v, ok
}

// Claims returns a copy of every claim in the token.
func (p *Payload) Claims() map[string]any {
	out := make(map[string]any, len(p.claims))
	for k, v := range p.claims {
		out[k] = v
	}
	return out
}

// RawToken returns the token the payload was decoded from.
func (p *Payload) RawToken() string { return p.raw }

func (p *Payload) flag(name string) bool {
	switch v := p.claims[name].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}
