// Package precompute expands a configured sizes × formats cross-product
// into operation specs when a new original lands in the bucket, and runs
// each through the same resolution pipeline as on-demand requests. Tasks
// are independent and failure-isolated; the trigger's at-least-once
// delivery makes re-runs harmless because every task is idempotent by key.
package precompute

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/image-delivery/internal/config"
	"github.com/fpang/image-delivery/internal/metrics"
	"github.com/fpang/image-delivery/internal/ops"
	"github.com/fpang/image-delivery/internal/resolve"
	"github.com/fpang/image-delivery/internal/store"
)

// maxConcurrent bounds parallel transforms per event; each task holds a
// decoded image in memory.
const maxConcurrent = 4

// supportedExtensions is the ingestion allow-list. Keys outside it never
// trigger precompute.
var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Resolver is the slice of the orchestrator the driver needs.
type Resolver interface {
	ResolveVariant(ctx context.Context, key string, sp ops.Spec) (resolve.Resolution, error)
}

// Result captures the outcome of one cross-product combination.
type Result struct {
	Key  string
	Spec ops.Spec
	Err  error
}

// Driver fans ingestion events out into variant computations.
type Driver struct {
	cfg      *config.Config
	resolver Resolver
}

// NewDriver wires the driver to the shared resolution pipeline.
func NewDriver(cfg *config.Config, resolver Resolver) *Driver {
	return &Driver{cfg: cfg, resolver: resolver}
}

// HandleEvent processes an S3 notification batch. Only object-created
// records for eligible keys produce work; everything else is skipped with
// a debug log. The returned results cover every attempted combination.
func (d *Driver) HandleEvent(ctx context.Context, evt events.S3Event) []Result {
	var results []Result
	for _, record := range evt.Records {
		if !strings.HasPrefix(record.EventName, "ObjectCreated") {
			log.Debug().Str("eventName", record.EventName).Msg("Skipping non-create event")
			continue
		}
		// S3 URL-encodes keys in notification payloads.
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}
		if !d.eligible(key) {
			log.Debug().Str("key", key).Msg("Key not eligible for precompute")
			continue
		}
		results = append(results, d.Precompute(ctx, key)...)
	}
	return results
}

// eligible filters ingestion keys: supported extension, not staging, and
// never a derived artifact (re-entrancy guard when derived writes land in
// the same bucket).
func (d *Driver) eligible(key string) bool {
	if strings.HasPrefix(key, store.DerivedPrefix) {
		return false
	}
	if d.cfg.StagingPrefix != "" && strings.HasPrefix(key, d.cfg.StagingPrefix) {
		return false
	}
	return supportedExtensions[strings.ToLower(path.Ext(key))]
}

// Precompute runs the full cross-product for one original concurrently.
// Each combination targets a distinct derived key, so ordering is
// irrelevant; one failure never aborts the siblings — errors are captured
// per task, not propagated.
func (d *Driver) Precompute(ctx context.Context, key string) []Result {
	specs := d.expand()
	results := make([]Result, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, sp := range specs {
		i, sp := i, sp
		g.Go(func() error {
			_, err := d.resolver.ResolveVariant(gctx, key, sp)
			results[i] = Result{Key: key, Spec: sp, Err: err}
			if err != nil {
				log.Error().Err(err).Str("key", key).Str("ops", sp.Canonical()).Msg("Precompute combination failed")
			}
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	log.Info().
		Str("key", key).
		Int("combinations", len(results)).
		Int("failed", failed).
		Msg("Precompute complete")

	metrics.New("ImageDelivery").
		Metric("PrecomputeCombinations", float64(len(results)), metrics.UnitCount).
		Metric("PrecomputeFailures", float64(failed), metrics.UnitCount).
		Property("key", key).
		Flush()

	return results
}

// expand builds the cross-product of configured size descriptors and
// formats. Descriptors use the operation grammar's own k=v form, so a
// malformed entry degrades the same way a malformed request would.
func (d *Driver) expand() []ops.Spec {
	specs := make([]ops.Spec, 0, len(d.cfg.PrecomputeSizes)*len(d.cfg.PrecomputeFormats))
	for _, size := range d.cfg.PrecomputeSizes {
		for _, format := range d.cfg.PrecomputeFormats {
			sp, err := ops.Parse("f=" + format + "," + size)
			if err != nil || sp.IsNoop() {
				log.Warn().Str("size", size).Str("format", format).Msg("Skipping invalid precompute combination")
				continue
			}
			specs = append(specs, sp)
		}
	}
	return specs
}
