package authgin

import (
	"context"
	"net/http"
	"strings"

	"github.com/PaulFidika/appleauth/appleid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const payloadKey = "appleid.payload"

// TokenDecoder is satisfied by *appleid.Decoder.
type TokenDecoder interface {
	Decode(ctx context.Context, raw string) (*appleid.Payload, error)
}

// Options tunes the middleware.
type Options struct {
	// FormField is read when no bearer token is present (Apple's form_post
	// response mode delivers the token as "id_token"). Defaults to "id_token".
	FormField string
	// Optional lets unauthenticated requests through; a present but invalid
	// token is still rejected.
	Optional bool
	Log      logrus.FieldLogger
}

// RequireIdentity verifies the caller's Apple identity token and stores the
// payload on the gin context. Failures abort with 401 and a machine-readable
// reason so clients can tell an expired token from a forged one.
func RequireIdentity(dec TokenDecoder, opts *Options) gin.HandlerFunc {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.FormField == "" {
		o.FormField = "id_token"
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && c.Request.Method == http.MethodPost {
			raw = strings.TrimSpace(c.PostForm(o.FormField))
		}
		if raw == "" {
			if o.Optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}
		p, err := dec.Decode(c.Request.Context(), raw)
		if err != nil {
			reason := ErrorReason(err)
			o.Log.WithFields(logrus.Fields{"reason": reason, "path": c.FullPath()}).Info("identity token rejected")
			status := http.StatusUnauthorized
			if appleid.Unavailable(err) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"error": reason})
			return
		}
		c.Set(payloadKey, p)
		c.Next()
	}
}

// PayloadFromGin returns the payload stored by RequireIdentity.
func PayloadFromGin(c *gin.Context) (*appleid.Payload, bool) {
	v, ok := c.Get(payloadKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*appleid.Payload)
	return p, ok && p != nil
}

// ErrorReason maps a decode error to the reason sent to clients.
func ErrorReason(err error) string { return appleid.Reason(err) }

func bearerToken(h string) string {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
