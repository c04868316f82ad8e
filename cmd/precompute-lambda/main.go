// Package main provides the Lambda entry point for batch variant
// precompute. S3 object-created notifications for newly ingested originals
// fan out into the configured sizes × formats cross-product, each
// combination flowing through the same resolution pipeline as on-demand
// requests. Failures are per-combination and logged, never propagated: a
// returned error would only trigger redelivery of work that is already
// idempotent.
package main

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-delivery/internal/config"
	"github.com/fpang/image-delivery/internal/logging"
	"github.com/fpang/image-delivery/internal/precompute"
	"github.com/fpang/image-delivery/internal/resolve"
	"github.com/fpang/image-delivery/internal/store"
	"github.com/fpang/image-delivery/internal/transform"
)

var driver *precompute.Driver

func init() {
	initStart := time.Now()
	logging.Init()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	// Precompute is internally triggered; the origin-verify secret is not
	// needed, so no SSM round trip on cold start.
	cfg := config.Load(context.Background(), nil)
	if cfg.Bucket == "" {
		log.Fatal().Msg("MEDIA_BUCKET_NAME environment variable is required")
	}

	artifacts := store.New(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.CacheTTL)
	handler := resolve.NewHandler(cfg, artifacts, transform.New())
	driver = precompute.NewDriver(cfg, handler)

	logging.NewStartupLogger("precompute-lambda").
		S3Bucket("media", cfg.Bucket).
		Config("sizes", strings.Join(cfg.PrecomputeSizes, ",")).
		Config("formats", strings.Join(cfg.PrecomputeFormats, ",")).
		Config("stagingPrefix", cfg.StagingPrefix).
		InitDuration(time.Since(initStart)).
		Log()
}

func handleEvent(ctx context.Context, evt events.S3Event) error {
	driver.HandleEvent(ctx, evt)
	return nil
}

func main() {
	lambda.Start(handleEvent)
}
