package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/lesson-video-pipeline/internal/server/ratelimit"
)

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitBody is the 429 response.
type rateLimitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Limit      int    `json:"limit"`
	ResetAt    string `json:"reset_at"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		allowed, info := s.rateLimiter.Allow(client, r.URL.Path, r.Method)

		h := w.Header()
		if info.Limit > 0 {
			h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		body := rateLimitBody{
			Error:   "rate_limit_exceeded",
			Message: "too many requests for " + r.Method + " " + r.URL.Path,
			Limit:   info.Limit,
			ResetAt: info.ResetTime.UTC().Format(time.RFC3339),
		}
		if retry := retrySeconds(info); retry > 0 {
			body.RetryAfter = retry
			h.Set("Retry-After", strconv.Itoa(retry))
		}
		s.logger.Warn("rate limit exceeded",
			zap.String("client", client),
			zap.String("path", r.URL.Path),
			zap.Int("limit", info.Limit))
		s.jsonResponse(w, http.StatusTooManyRequests, body)
	})
}

// retrySeconds rounds the limiter's wait up to whole seconds. Blacklisted
// clients get no hint.
func retrySeconds(info ratelimit.Info) int {
	if info.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(info.RetryAfter.Seconds()))
}

// clientID keys rate limits by remote IP.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
