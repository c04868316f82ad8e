// Package store adapts the externally-owned S3 bucket holding originals
// and derived variants. Derived objects live under a namespace prefix so
// they can never collide with (or be mistaken for) originals, and carry
// their content type and cache lifetime as object metadata, read back
// verbatim on later serves. Expiration itself is the bucket's lifecycle
// policy, not this package's concern.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// DerivedPrefix namespaces derived artifacts apart from originals.
const DerivedPrefix = "derived/"

// ErrNotFound reports a missing original.
var ErrNotFound = errors.New("original not found")

// ErrMiss reports an absent derived artifact; callers recompute.
var ErrMiss = errors.New("derived artifact miss")

// Artifact is a derived variant: transformed bytes plus the resolved
// content type. The in-memory copy is ephemeral; the persisted object is
// the durable representation.
type Artifact struct {
	Body        []byte
	ContentType string
}

// Size returns the artifact's byte length.
func (a Artifact) Size() int64 { return int64(len(a.Body)) }

// S3Store reads originals and reads/writes derived variants in one bucket.
type S3Store struct {
	client       *s3.Client
	bucket       string
	cacheControl string
}

// New creates an S3Store. ttl becomes the Cache-Control max-age attached
// to every derived artifact at write time.
func New(client *s3.Client, bucket string, ttl time.Duration) *S3Store {
	return &S3Store{
		client:       client,
		bucket:       bucket,
		cacheControl: fmt.Sprintf("public, max-age=%d", int64(ttl.Seconds())),
	}
}

// CacheControl returns the cache lifetime directive attached to derived
// artifacts, for reuse on the inline response path.
func (s *S3Store) CacheControl() string { return s.cacheControl }

// FetchOriginal retrieves an original's bytes and content type by key.
func (s *S3Store) FetchOriginal(ctx context.Context, key string) ([]byte, string, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, "", fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read original body: %w", err)
	}

	contentType := ""
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	log.Debug().Str("key", key).Int("size", len(body)).Msg("Fetched original from S3")
	return body, contentType, nil
}

// PutDerived persists a derived artifact under the namespaced key with its
// content type and cache lifetime. Failures here are advisory: the caller
// logs and serves the freshly computed bytes regardless.
func (s *S3Store) PutDerived(ctx context.Context, key string, a Artifact) error {
	storeKey := DerivedPrefix + key
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       &s.bucket,
		Key:          &storeKey,
		Body:         bytes.NewReader(a.Body),
		ContentType:  &a.ContentType,
		CacheControl: &s.cacheControl,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject: %w", err)
	}
	log.Debug().Str("key", storeKey).Int64("size", a.Size()).Msg("Persisted derived artifact")
	return nil
}

// GetDerived retrieves a previously persisted variant. The stored content
// type is returned verbatim.
func (s *S3Store) GetDerived(ctx context.Context, key string) (Artifact, error) {
	storeKey := DerivedPrefix + key
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &storeKey,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return Artifact{}, fmt.Errorf("%w: %s", ErrMiss, storeKey)
		}
		return Artifact{}, fmt.Errorf("S3 GetObject: %w", err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return Artifact{}, fmt.Errorf("read derived body: %w", err)
	}

	contentType := ""
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return Artifact{Body: body, ContentType: contentType}, nil
}

// isNoSuchKey classifies S3 "object absent" errors, which surface either
// as the typed NoSuchKey or as a generic NotFound API error depending on
// the operation.
func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}
