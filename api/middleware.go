package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/tenancy-engine/lettings"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Request headers set by the upstream auth layer.
const (
	HeaderAgencyID = "X-Agency-ID"
	HeaderUserID   = "X-User-ID"
)

type ctxKey int

const agencyKey ctxKey = iota

// =============================================================================
// AGENCY SCOPE
// =============================================================================

// RequireAgency rejects requests without an agency scope and stores it on
// the request context. It does not authenticate; the gateway in front of
// this service does.
func RequireAgency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agency := r.Header.Get(HeaderAgencyID)
		if agency == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error: "missing " + HeaderAgencyID + " header",
				Code:  "validation_error",
			})
			return
		}
		ctx := context.WithValue(r.Context(), agencyKey, lettings.AgencyID(agency))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// agencyFrom returns the scope set by RequireAgency.
func agencyFrom(r *http.Request) lettings.AgencyID {
	agency, _ := r.Context().Value(agencyKey).(lettings.AgencyID)
	return agency
}

// actorFrom names who made the change, for deposit audit fields.
func actorFrom(r *http.Request) string {
	return r.Header.Get(HeaderUserID)
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("agency_id", r.Header.Get(HeaderAgencyID)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// agencyLimiter hands out one token bucket per agency.
type agencyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newAgencyLimiter(perMinute int) *agencyLimiter {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &agencyLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

func (l *agencyLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// RateLimit caps requests per agency. perMinute <= 0 disables it.
func RateLimit(perMinute int, logger *zap.Logger) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := newAgencyLimiter(perMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAgencyID)
			if key == "" {
				key = r.RemoteAddr
			}
			if !limiters.get(key).Allow() {
				logger.Warn("rate limit exceeded", zap.String("key", key))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error: "rate limit exceeded, try again later",
					Code:  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
