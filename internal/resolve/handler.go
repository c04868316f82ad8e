// Package resolve implements the variant resolution pipeline: authorize,
// derive keys, fetch the original, transform, apply the oversize policy,
// and write through to the artifact store. It is the single path shared by
// edge-forwarded requests and precompute invocations.
package resolve

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-delivery/internal/config"
	"github.com/fpang/image-delivery/internal/ops"
	"github.com/fpang/image-delivery/internal/store"
	"github.com/fpang/image-delivery/internal/transform"
)

// ArtifactStore is the storage surface the orchestrator needs. store.S3Store
// implements it; tests substitute fakes.
type ArtifactStore interface {
	FetchOriginal(ctx context.Context, key string) ([]byte, string, error)
	GetDerived(ctx context.Context, key string) (store.Artifact, error)
	PutDerived(ctx context.Context, key string, a store.Artifact) error

	// CacheControl is the directive the store attaches to persisted
	// variants; inline responses carry the same one so the two can never
	// drift apart.
	CacheControl() string
}

// Transformer executes an operation spec against original bytes.
type Transformer interface {
	Execute(ctx context.Context, original []byte, sp ops.Spec) ([]byte, string, error)
}

// Resolution is the terminal state of a successful pipeline run.
type Resolution struct {
	Artifact store.Artifact

	// Stored reports whether the persistence attempt succeeded. Within
	// the size ceiling this is informational; over the ceiling it decides
	// redirect versus failure.
	Stored bool

	// Oversize reports that the artifact exceeds the inline ceiling.
	Oversize bool
}

// Handler resolves variant requests over HTTP. Wrap it with
// WithOriginVerify and WithMetrics for the public entry point.
type Handler struct {
	cfg         *config.Config
	store       ArtifactStore
	transformer Transformer
}

// NewHandler wires the orchestrator. All collaborators are injected; the
// handler itself holds no mutable state across requests.
func NewHandler(cfg *config.Config, st ArtifactStore, tr Transformer) *Handler {
	return &Handler{cfg: cfg, store: st, transformer: tr}
}

// ResolveVariant runs the full pipeline for one (original key, spec) pair.
// Persistence is write-through and best-effort: the attempt completes
// before returning, but a write failure only matters for oversize output.
func (h *Handler) ResolveVariant(ctx context.Context, key string, sp ops.Spec) (Resolution, error) {
	sp = sp.Normalize()
	derivedKey := ops.DerivedKey(key, sp)

	// Serve a previously persisted variant when present. Store read
	// errors fall through to recompute — the cache tier being down must
	// not make the request fail.
	cached, err := h.getDerived(ctx, derivedKey)
	if err == nil {
		return Resolution{Artifact: cached, Stored: true, Oversize: cached.Size() > int64(h.cfg.MaxBodyBytes)}, nil
	}
	if !errors.Is(err, store.ErrMiss) {
		log.Warn().Err(err).Str("key", derivedKey).Msg("Derived read failed — recomputing")
	}

	original, _, err := h.fetchOriginal(ctx, key)
	if err != nil {
		return Resolution{}, err
	}

	body, contentType, err := h.transform(ctx, original, sp)
	if err != nil {
		return Resolution{}, err
	}

	artifact := store.Artifact{Body: body, ContentType: contentType}
	resolution := Resolution{
		Artifact: artifact,
		Oversize: artifact.Size() > int64(h.cfg.MaxBodyBytes),
	}

	// Always attempt persistence, oversize included: the next request
	// (or the CDN) can then serve straight from storage. The write keeps
	// going even if the client disconnects mid-flight.
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.StoreTimeout)
	defer cancel()
	if err := h.store.PutDerived(putCtx, derivedKey, artifact); err != nil {
		log.Warn().Err(err).Str("key", derivedKey).Msg("Derived write failed — serving computed bytes")
	} else {
		resolution.Stored = true
	}

	return resolution, nil
}

func (h *Handler) getDerived(ctx context.Context, derivedKey string) (store.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.StoreTimeout)
	defer cancel()
	return h.store.GetDerived(ctx, derivedKey)
}

func (h *Handler) fetchOriginal(ctx context.Context, key string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	defer cancel()
	return h.store.FetchOriginal(ctx, key)
}

func (h *Handler) transform(ctx context.Context, original []byte, sp ops.Spec) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.TransformTimeout)
	defer cancel()
	return h.transformer.Execute(ctx, original, sp)
}

// ServeHTTP maps the pipeline onto the HTTP surface described by the edge
// contract: /<original-key>/<canonical-operation-string>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httpError(w, http.StatusBadRequest, "unsupported method")
		return
	}

	key, sp, ok := splitVariantPath(r.URL.Path)
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid path")
		return
	}

	resolution, err := h.ResolveVariant(r.Context(), key, sp)
	if err != nil {
		status, msg := classify(err)
		httpError(w, status, msg, err.Error())
		return
	}

	if resolution.Oversize {
		if !resolution.Stored {
			// Never serve an over-ceiling payload inline: the transport
			// enforces a hard limit, and truncation is worse than failure.
			httpError(w, http.StatusForbidden, "variant too large", "oversize artifact and persistence failed")
			return
		}
		// Re-express the operations as a query string so the edge
		// normalizer canonicalizes the follow-up request identically.
		location := "/" + key + "?" + sp.Query()
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	a := resolution.Artifact
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Cache-Control", h.store.CacheControl())
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(a.Body)
	}
}

// classify maps pipeline errors to HTTP status and a generic client
// message. Fetch and transform failures stay distinguishable in the body
// while internal detail goes only to the logs.
func classify(err error) (int, string) {
	var terr *transform.Error
	if errors.As(err, &terr) {
		return http.StatusInternalServerError, "transform failed"
	}
	return http.StatusInternalServerError, "fetch failed"
}

// splitVariantPath separates the original key from the trailing operation
// segment. A segment is an operation string when it is the original
// sentinel or contains a k=v field; otherwise the whole path is the key
// and the request means "serve unmodified".
func splitVariantPath(path string) (string, ops.Spec, bool) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", ops.Spec{}, false
	}

	idx := strings.LastIndexByte(path, '/')
	if idx > 0 {
		segment := path[idx+1:]
		if segment == ops.OriginalToken || strings.ContainsRune(segment, '=') {
			sp, err := ops.Parse(segment)
			if err == nil {
				return path[:idx], sp, true
			}
		}
	}
	return path, ops.Spec{Original: true}, true
}
