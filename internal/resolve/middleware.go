package resolve

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-delivery/internal/metrics"
)

// OriginVerifyHeader carries the shared secret proving a direct request
// was forwarded by the trusted edge. CloudFront injects it as a custom
// origin header; it is never exposed to end users.
const OriginVerifyHeader = "x-origin-verify"

// WithOriginVerify rejects requests lacking the correct x-origin-verify
// header before any fetch or transform work happens. An empty secret
// disables the check (dev/initial deploy).
func WithOriginVerify(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(OriginVerifyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
				httpError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// WithMetrics emits per-request EMF metrics (latency, count, response
// size) and attaches a request ID to the log context.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		logger := log.With().Str("requestId", requestID).Logger()
		next.ServeHTTP(sr, r.WithContext(logger.WithContext(r.Context())))

		elapsed := time.Since(start)
		metrics.New("ImageDelivery").
			Dimension("StatusCode", strconv.Itoa(sr.statusCode)).
			Metric("RequestLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("RequestCount").
			Property("method", r.Method).
			Property("statusCode", sr.statusCode).
			Property("path", r.URL.Path).
			Property("requestId", requestID).
			Flush()
	})
}
