// Package config builds the immutable service configuration once at cold
// start. Nothing else in the codebase reads environment variables after
// Load returns; components receive the struct by reference through their
// constructors.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// Defaults. The body ceiling sits under the 6 MB Lambda response payload
// limit with headroom for headers and base64 expansion.
const (
	defaultMaxBodyBytes = 5 * 1024 * 1024
	defaultCacheTTL     = 365 * 24 * time.Hour
	defaultFetchTimeout = 10 * time.Second
	defaultXformTimeout = 25 * time.Second
	defaultStoreTimeout = 10 * time.Second

	defaultSSMSecretParam = "/image-delivery/prod/origin-verify-secret"
)

// Config is the immutable process configuration.
type Config struct {
	// Bucket holding originals and derived variants.
	Bucket string

	// OriginSecret is the shared secret CloudFront injects via the
	// x-origin-verify header. Empty disables the check (dev only).
	OriginSecret string

	// MaxBodyBytes is the inline response ceiling; larger outputs go
	// through the oversize redirect policy.
	MaxBodyBytes int

	// CacheTTL is the cache lifetime attached to derived artifacts.
	CacheTTL time.Duration

	// Per-stage deadlines.
	FetchTimeout     time.Duration
	TransformTimeout time.Duration
	StoreTimeout     time.Duration

	// Precompute cross-product: size descriptors in the operation
	// grammar's own k=v form ("w=320", "mw=1280") and target formats.
	PrecomputeSizes   []string
	PrecomputeFormats []string

	// StagingPrefix excludes in-progress uploads from precompute.
	StagingPrefix string
}

// Load constructs the configuration from the environment, fetching the
// origin-verify secret from SSM Parameter Store when it is not provided
// directly. ssmClient may be nil when SSM lookup is not wanted (local
// tools, tests).
func Load(ctx context.Context, ssmClient *ssm.Client) *Config {
	cfg := &Config{
		Bucket:            os.Getenv("MEDIA_BUCKET_NAME"),
		OriginSecret:      os.Getenv("ORIGIN_VERIFY_SECRET"),
		MaxBodyBytes:      envInt("MAX_RESPONSE_BYTES", defaultMaxBodyBytes),
		CacheTTL:          envDuration("VARIANT_CACHE_TTL", defaultCacheTTL),
		FetchTimeout:      envDuration("FETCH_TIMEOUT", defaultFetchTimeout),
		TransformTimeout:  envDuration("TRANSFORM_TIMEOUT", defaultXformTimeout),
		StoreTimeout:      envDuration("STORE_TIMEOUT", defaultStoreTimeout),
		PrecomputeSizes:   envList("PRECOMPUTE_SIZES", []string{"mw=320", "mw=640", "mw=1280"}),
		PrecomputeFormats: envList("PRECOMPUTE_FORMATS", []string{"webp", "jpeg"}),
		StagingPrefix:     envDefault("STAGING_PREFIX", "staging/"),
	}

	if cfg.OriginSecret == "" && ssmClient != nil {
		cfg.OriginSecret = loadSecretFromSSM(ctx, ssmClient)
	}
	return cfg
}

// loadSecretFromSSM fetches the origin-verify secret parameter. Absence is
// non-fatal: the middleware treats an empty secret as "check disabled" and
// the startup log surfaces the state.
func loadSecretFromSSM(ctx context.Context, client *ssm.Client) string {
	param := envDefault("SSM_ORIGIN_SECRET_PARAM", defaultSSMSecretParam)
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		log.Warn().Err(err).Str("param", param).Msg("Origin-verify secret not found in SSM — check disabled")
		return ""
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Origin-verify secret loaded from SSM")
	return *result.Parameter.Value
}

func envDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("envVar", name).Str("value", v).Msg("Ignoring invalid integer env var")
		return fallback
	}
	return n
}

// envDuration reads a duration expressed in whole seconds.
func envDuration(name string, fallback time.Duration) time.Duration {
	n := envInt(name, int(fallback/time.Second))
	return time.Duration(n) * time.Second
}

func envList(name string, fallback []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
