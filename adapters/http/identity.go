package authhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PaulFidika/appleauth/appleid"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const payloadKey ctxKey = iota

// TokenDecoder is satisfied by *appleid.Decoder.
type TokenDecoder interface {
	Decode(ctx context.Context, raw string) (*appleid.Payload, error)
}

// Middleware verifies Apple identity tokens for plain net/http handlers.
type Middleware struct {
	dec       TokenDecoder
	formField string
	optional  bool
	log       logrus.FieldLogger
}

// Opt configures a Middleware.
type Opt func(*Middleware)

// WithFormField changes the form field read for form_post callbacks.
func WithFormField(name string) Opt { return func(m *Middleware) { m.formField = name } }

// Optional lets requests without a token through.
func Optional() Opt { return func(m *Middleware) { m.optional = true } }

// WithLogger sets the logger for rejected tokens.
func WithLogger(l logrus.FieldLogger) Opt {
	return func(m *Middleware) {
		if l != nil {
			m.log = l
		}
	}
}

func New(dec TokenDecoder, opts ...Opt) *Middleware {
	m := &Middleware{dec: dec, formField: "id_token", log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap returns next guarded by token verification. The payload is available
// to next through PayloadFromContext.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" && m.formField != "" && r.Method == http.MethodPost {
			raw = strings.TrimSpace(r.PostFormValue(m.formField))
		}
		if raw == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		p, err := m.dec.Decode(r.Context(), raw)
		if err != nil {
			reason := appleid.Reason(err)
			m.log.WithFields(logrus.Fields{"reason": reason, "path": r.URL.Path}).Info("identity token rejected")
			status := http.StatusUnauthorized
			if appleid.Unavailable(err) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, reason)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), payloadKey, p)))
	})
}

// PayloadFromContext returns the payload stored by Wrap.
func PayloadFromContext(ctx context.Context) (*appleid.Payload, bool) {
	p, ok := ctx.Value(payloadKey).(*appleid.Payload)
	return p, ok && p != nil
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

func bearerToken(h string) string {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
