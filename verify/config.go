package verify

import (
	"fmt"
	"time"
)

// MaxLeewaySeconds bounds the tolerated clock skew to one day.
const MaxLeewaySeconds = 86400

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always reports t. Handy for tests and replays.
func FixedClock(t time.Time) Clock { return ClockFunc(func() time.Time { return t }) }

// UnixClock always reports the given epoch second.
func UnixClock(sec int64) Clock { return FixedClock(time.Unix(sec, 0)) }

// Config controls temporal validation for one Verify call.
type Config struct {
	// LeewaySeconds is the clock skew tolerated on nbf, iat and exp.
	LeewaySeconds int64
	// Clock defaults to SystemClock.
	Clock Clock
}

// DefaultConfig has zero leeway and the system clock.
func DefaultConfig() Config { return Config{Clock: SystemClock} }

// Validate rejects leeway outside [0, MaxLeewaySeconds].
func (c Config) Validate() error {
	if c.LeewaySeconds < 0 || c.LeewaySeconds > MaxLeewaySeconds {
		return fmt.Errorf("verify: leeway must be within [0, %d], got %d", MaxLeewaySeconds, c.LeewaySeconds)
	}
	return nil
}

func (c Config) now() int64 {
	if c.Clock == nil {
		return SystemClock.Now().Unix()
	}
	return c.Clock.Now().Unix()
}

func (c Config) leeway() int64 {
	switch {
	case c.LeewaySeconds < 0:
		return 0
	case c.LeewaySeconds > MaxLeewaySeconds:
		return MaxLeewaySeconds
	}
	return c.LeewaySeconds
}
