package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PaulFidika/appleauth/appleid"
	"github.com/PaulFidika/appleauth/keyset"
	memorylimiter "github.com/PaulFidika/appleauth/ratelimit/memory"
	redislimiter "github.com/PaulFidika/appleauth/ratelimit/redis"
	memorystore "github.com/PaulFidika/appleauth/storage/memory"
	redisstore "github.com/PaulFidika/appleauth/storage/redis"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. APPLEAUTH_CLIENT_ID.
const EnvPrefix = "APPLEAUTH"

// Config holds identity token verification settings loaded from a file and the environment.
type Config struct {
	ClientID          string   `mapstructure:"client_id"`
	Issuer            string   `mapstructure:"issuer" default:"https://appleid.apple.com"`
	JWKSURL           string   `mapstructure:"jwks_url" default:"https://appleid.apple.com/auth/keys" validate:"required,url"`
	LeewaySeconds     int64    `mapstructure:"leeway_seconds" default:"0" validate:"gte=0,lte=86400"`
	AllowedAlgorithms []string `mapstructure:"allowed_algorithms" validate:"dive,oneof=HS256 HS384 HS512 RS256 RS384 RS512"`
	LogLevel          string   `mapstructure:"log_level" default:"info" validate:"oneof=trace debug info warn error"`
	Cache             Cache    `mapstructure:"cache"`
	Refresh           Refresh  `mapstructure:"refresh"`
}

// Cache selects where fetched key sets are kept.
type Cache struct {
	TTL       time.Duration `mapstructure:"ttl" default:"10m" validate:"gte=0"`
	RedisAddr string        `mapstructure:"redis_addr"`
	KeyPrefix string        `mapstructure:"key_prefix" default:"auth:appleid:jwks:"`
	Disabled  bool          `mapstructure:"disabled"`
}

// Refresh bounds refetches triggered by tokens whose kid is not in the cached set.
type Refresh struct {
	Limit  int           `mapstructure:"limit" default:"6" validate:"gte=0"`
	Window time.Duration `mapstructure:"window" default:"1m" validate:"gt=0"`
}

// Load reads path (optional) and APPLEAUTH_* variables over the defaults, then validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"client_id", "issuer", "jwks_url", "leeway_seconds", "allowed_algorithms", "log_level",
		"cache.ttl", "cache.redis_addr", "cache.key_prefix", "cache.disabled",
		"refresh.limit", "refresh.window",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies the struct tag rules.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// DecoderConfig converts to the decoder's settings.
func (c *Config) DecoderConfig() appleid.Config {
	return appleid.Config{
		ClientID:          c.ClientID,
		Issuer:            c.Issuer,
		AllowedAlgorithms: append([]string(nil), c.AllowedAlgorithms...),
		LeewaySeconds:     c.LeewaySeconds,
	}
}

// Logger returns a logrus logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Build wires a Decoder with the configured cache. The returned close
// function releases the cache and must be called on shutdown.
func (c *Config) Build(log logrus.FieldLogger, opts ...appleid.DecoderOpt) (*appleid.Decoder, func() error, error) {
	if err := Validate(c); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = c.Logger()
	}
	closeFn := func() error { return nil }
	srcOpts := []keyset.SourceOpt{keyset.WithLogger(log)}
	var limiter appleid.RefreshLimiter = memorylimiter.New(map[string]memorylimiter.Limit{
		appleid.RefreshBucket: {Limit: c.Refresh.Limit, Window: c.Refresh.Window},
	})

	switch {
	case c.Cache.Disabled:
	case c.Cache.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: c.Cache.RedisAddr})
		srcOpts = append(srcOpts, keyset.WithCache(redisstore.NewKeySetCache(rdb, c.Cache.KeyPrefix, c.Cache.TTL), c.JWKSURL))
		limiter = redislimiter.New(rdb, "", map[string]redislimiter.Limit{
			appleid.RefreshBucket: {Limit: c.Refresh.Limit, Window: c.Refresh.Window},
		})
		closeFn = rdb.Close
	default:
		mem := memorystore.NewKeySetCache(c.Cache.TTL)
		srcOpts = append(srcOpts, keyset.WithCache(mem, c.JWKSURL))
		closeFn = mem.Close
	}

	src := keyset.NewSource(keyset.NewHTTPFetcher(c.JWKSURL), srcOpts...)
	opts = append([]appleid.DecoderOpt{appleid.WithLogger(log), appleid.WithRefreshLimiter(limiter)}, opts...)
	return appleid.NewDecoder(src, c.DecoderConfig(), opts...), closeFn, nil
}
