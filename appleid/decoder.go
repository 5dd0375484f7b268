// Package appleid decodes Sign in with Apple identity tokens into a verified Payload.
//
// A Decoder reads the key id from the token header, resolves the signing key
// from Apple's published key set, verifies the token and then applies the
// relying-party checks (issuer and audience).
package appleid

import (
	"context"
	"errors"
	"fmt"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
	"github.com/PaulFidika/appleauth/keyset"
	"github.com/PaulFidika/appleauth/verify"
	"github.com/sirupsen/logrus"
)

// AppleIssuer is the iss value on every Apple identity token.
const AppleIssuer = "https://appleid.apple.com"

var (
	ErrMissingKeyID     = errors.New("appleid: token header has no kid")
	ErrIssuerMismatch   = errors.New("appleid: issuer mismatch")
	ErrAudienceMismatch = errors.New("appleid: audience mismatch")
)

// Config describes what the relying party accepts.
type Config struct {
	// ClientID is the expected aud (Services ID or bundle id). Empty skips the check.
	ClientID string
	// Issuer is the expected iss. Empty skips the check.
	Issuer string
	// AllowedAlgorithms narrows what a key may be used with. Empty means
	// "whatever algorithm the key itself declares".
	AllowedAlgorithms []string
	// LeewaySeconds is the tolerated clock skew.
	LeewaySeconds int64
}

// KeySetSource yields the current key-set document.
type KeySetSource interface {
	KeySet(ctx context.Context) (*jwtkit.Document, error)
}

// refresher is implemented by sources that can bypass their cache.
type refresher interface {
	Refresh(ctx context.Context) (*jwtkit.Document, error)
}

// RefreshBucket is the limiter bucket charged for each refetch triggered by
// an unknown key id.
const RefreshBucket = "keyset_refresh"

// RefreshLimiter bounds how often unknown key ids may force a refetch.
// Without one, tokens carrying random kids can make every Decode hit the network.
type RefreshLimiter interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// Decoder turns raw identity tokens into Payloads. Safe for concurrent use.
type Decoder struct {
	cfg      Config
	source   KeySetSource
	resolver *keyset.Resolver
	verifier *verify.Verifier
	clock    verify.Clock
	limiter  RefreshLimiter
	log      logrus.FieldLogger
}

// DecoderOpt configures a Decoder.
type DecoderOpt func(*Decoder)

// WithClock overrides the time source used for nbf/iat/exp.
func WithClock(c verify.Clock) DecoderOpt {
	return func(d *Decoder) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithResolver replaces the key resolver.
func WithResolver(r *keyset.Resolver) DecoderOpt {
	return func(d *Decoder) {
		if r != nil {
			d.resolver = r
		}
	}
}

// WithVerifier replaces the token verifier.
func WithVerifier(v *verify.Verifier) DecoderOpt {
	return func(d *Decoder) {
		if v != nil {
			d.verifier = v
		}
	}
}

// WithRefreshLimiter throttles refetches caused by unknown key ids.
func WithRefreshLimiter(l RefreshLimiter) DecoderOpt {
	return func(d *Decoder) { d.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) DecoderOpt {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

// NewDecoder builds a Decoder reading keys from source.
func NewDecoder(source KeySetSource, cfg Config, opts ...DecoderOpt) *Decoder {
	d := &Decoder{
		cfg:      cfg,
		source:   source,
		resolver: keyset.NewResolver(nil),
		verifier: verify.NewVerifier(),
		clock:    verify.SystemClock,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewAppleDecoder builds a Decoder for clientID against Apple's live key set.
// Without a cache option every Decode fetches the key set.
func NewAppleDecoder(clientID string, sourceOpts []keyset.SourceOpt, opts ...DecoderOpt) *Decoder {
	src := keyset.NewSource(keyset.NewHTTPFetcher(keyset.AppleKeysURL), sourceOpts...)
	return NewDecoder(src, Config{ClientID: clientID, Issuer: AppleIssuer}, opts...)
}

// Decode verifies raw and returns its payload.
func (d *Decoder) Decode(ctx context.Context, raw string) (*Payload, error) {
	tok, err := jwtkit.Parse(raw)
	if err != nil {
		return nil, err
	}
	kid := tok.KeyID()
	if kid == "" {
		return nil, ErrMissingKeyID
	}
	key, err := d.resolve(ctx, kid)
	if err != nil {
		return nil, err
	}
	cfg := verify.Config{LeewaySeconds: d.cfg.LeewaySeconds, Clock: d.clock}
	claims, err := d.verifier.Verify(tok, key, d.allowedFor(key), cfg)
	if err != nil {
		return nil, err
	}
	if err := d.checkRelyingParty(claims); err != nil {
		d.log.WithField("kid", kid).WithError(err).Debug("identity token rejected")
		return nil, err
	}
	return &Payload{claims: claims, raw: raw}, nil
}

func (d *Decoder) resolve(ctx context.Context, kid string) (keyset.KeyDescriptor, error) {
	if d.source == nil {
		return keyset.KeyDescriptor{}, errors.New("appleid: no key set source")
	}
	doc, err := d.source.KeySet(ctx)
	if err != nil {
		return keyset.KeyDescriptor{}, fmt.Errorf("appleid: key set: %w", err)
	}
	key, err := d.resolver.Resolve(kid, doc)
	if err == nil || !verify.Retryable(err) {
		return key, err
	}
	// Apple rotates keys; an unknown kid or an unusable set may just mean a
	// stale cached copy.
	r, ok := d.source.(refresher)
	if !ok {
		return key, err
	}
	if !d.allowRefresh(ctx, kid) {
		return key, err
	}
	d.log.WithField("kid", kid).Debug("kid not in key set, refreshing")
	doc, ferr := r.Refresh(ctx)
	if ferr != nil {
		return keyset.KeyDescriptor{}, fmt.Errorf("appleid: key set refresh: %w", ferr)
	}
	return d.resolver.Resolve(kid, doc)
}

func (d *Decoder) allowRefresh(ctx context.Context, kid string) bool {
	if d.limiter == nil {
		return true
	}
	ok, err := d.limiter.Allow(ctx, RefreshBucket, "global")
	if err != nil {
		// Limiter outage must not lock out key rotation.
		d.log.WithError(err).Warn("refresh limiter failed, refreshing anyway")
		return true
	}
	if !ok {
		d.log.WithField("kid", kid).Debug("key set refresh throttled")
	}
	return ok
}

// allowedFor restricts the token to the algorithm published with its key,
// further narrowed by the configured list when one is set.
func (d *Decoder) allowedFor(key keyset.KeyDescriptor) []string {
	if key.Algorithm == "" {
		return nil
	}
	if len(d.cfg.AllowedAlgorithms) == 0 {
		return []string{key.Algorithm}
	}
	for _, a := range d.cfg.AllowedAlgorithms {
		if a == key.Algorithm {
			return []string{key.Algorithm}
		}
	}
	return nil
}

func (d *Decoder) checkRelyingParty(claims verify.ClaimSet) error {
	if d.cfg.Issuer != "" {
		if iss, _ := claims.String("iss"); iss != d.cfg.Issuer {
			return fmt.Errorf("%w: %q", ErrIssuerMismatch, iss)
		}
	}
	if d.cfg.ClientID != "" && !audienceContains(claims["aud"], d.cfg.ClientID) {
		return ErrAudienceMismatch
	}
	return nil
}

func audienceContains(aud any, want string) bool {
	for _, s := range audiences(aud) {
		if s == want {
			return true
		}
	}
	return false
}

func audiences(aud any) []string {
	switch v := aud.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
