// Package main provides the Lambda entry point for on-demand variant
// resolution. CloudFront forwards cache misses here through API Gateway;
// the handler fetches the original from S3, applies the requested
// transform, writes the variant back best-effort, and serves the bytes
// (or redirects when the output exceeds the response payload ceiling).
//
// Security: the origin-verify middleware blocks direct API Gateway access;
// only requests carrying the CloudFront-injected shared secret pass.
package main

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-delivery/internal/config"
	"github.com/fpang/image-delivery/internal/logging"
	"github.com/fpang/image-delivery/internal/resolve"
	"github.com/fpang/image-delivery/internal/store"
	"github.com/fpang/image-delivery/internal/transform"
)

var (
	cfg     *config.Config
	handler *resolve.Handler
)

func init() {
	initStart := time.Now()
	logging.Init()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	cfg = config.Load(context.Background(), ssm.NewFromConfig(awsCfg))
	if cfg.Bucket == "" {
		log.Fatal().Msg("MEDIA_BUCKET_NAME environment variable is required")
	}

	transformer := transform.New()
	artifacts := store.New(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.CacheTTL)
	handler = resolve.NewHandler(cfg, artifacts, transformer)

	logging.NewStartupLogger("resize-lambda").
		S3Bucket("media", cfg.Bucket).
		Feature("originVerify", cfg.OriginSecret != "").
		Feature("avif", transformer.FFmpegPath != "").
		Config("maxBodyBytes", strconv.Itoa(cfg.MaxBodyBytes)).
		Config("cacheTTL", cfg.CacheTTL.String()).
		InitDuration(time.Since(initStart)).
		Log()
}

func main() {
	h := resolve.WithOriginVerify(cfg.OriginSecret)(resolve.WithMetrics(handler))
	adapter := httpadapter.NewV2(h)
	lambda.Start(adapter.ProxyWithContext)
}
