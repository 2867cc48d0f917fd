package server

import (
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/runledger/coordinator"
	"github.com/BaSui01/runledger/internal/metrics"
)

// Options configures the HTTP surface.
type Options struct {
	// Logger receives request and handler logs (default: no-op).
	Logger *zap.Logger

	// Metrics records HTTP and domain metrics and backs /metrics
	// (optional).
	Metrics *metrics.Collector

	// JWTSecret enables bearer-token auth on /v1 routes when non-empty.
	// Tokens must carry a tenant_id claim.
	JWTSecret string

	// RateLimitRPS/RateLimitBurst bound per-tenant request rates.
	// Non-positive RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// SigningKey signs audit exports that request a signature.
	SigningKey   ed25519.PrivateKey
	SigningKeyID string

	// StreamPollInterval is how often the audit stream polls for new
	// entries (default: 1s).
	StreamPollInterval time.Duration
}

// Server is the operator-facing HTTP surface: lock inspection and
// override, audit queries, chain verification, signed export, checkpoint
// inspection and a live audit tail.
type Server struct {
	coord   *coordinator.Coordinator
	metrics *metrics.Collector
	logger  *zap.Logger
	health  *HealthHandler

	jwtSecret          string
	rateLimitRPS       float64
	rateLimitBurst     int
	signingKey         ed25519.PrivateKey
	signingKeyID       string
	streamPollInterval time.Duration
}

// New creates the HTTP surface over a coordinator.
func New(coord *coordinator.Coordinator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StreamPollInterval <= 0 {
		opts.StreamPollInterval = time.Second
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 10
	}

	return &Server{
		coord:              coord,
		metrics:            opts.Metrics,
		logger:             logger.With(zap.String("component", "api")),
		health:             NewHealthHandler(logger),
		jwtSecret:          opts.JWTSecret,
		rateLimitRPS:       opts.RateLimitRPS,
		rateLimitBurst:     opts.RateLimitBurst,
		signingKey:         opts.SigningKey,
		signingKeyID:       opts.SigningKeyID,
		streamPollInterval: opts.StreamPollInterval,
	}
}

// Health exposes the health handler for registering readiness checks.
func (s *Server) Health() *HealthHandler {
	return s.health
}

// Handler builds the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/locks", s.handleListLocks)
	v1.HandleFunc("POST /v1/locks/{runID}/force-release", s.handleForceRelease)

	v1.HandleFunc("GET /v1/audit/entries", s.handleQueryAudit)
	v1.HandleFunc("GET /v1/audit/entries/{id}", s.handleGetAuditEntry)
	v1.HandleFunc("GET /v1/audit/metadata", s.handleAuditMetadata)
	v1.HandleFunc("POST /v1/audit/verify", s.handleVerifyAudit)
	v1.HandleFunc("POST /v1/audit/export", s.handleExportAudit)
	v1.HandleFunc("GET /v1/audit/stream", s.handleAuditStream)

	v1.HandleFunc("GET /v1/checkpoints", s.handleListCheckpoints)
	v1.HandleFunc("GET /v1/checkpoints/{runID}", s.handleGetCheckpoint)
	v1.HandleFunc("DELETE /v1/checkpoints/{runID}", s.handleDeleteCheckpoint)

	// Auth and rate limiting apply to the versioned API only; probes and
	// metrics stay open for the platform.
	mux.Handle("/v1/", Chain(v1,
		JWTAuth(s.jwtSecret, s.logger),
		RateLimit(s.rateLimitRPS, s.rateLimitBurst),
	))

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		Tracing(),
		Metrics(s.metrics),
		RequestLogger(s.logger),
	)
}

// resolveTenant reconciles the tenant named by the request with the
// authenticated tenant. With auth enabled the token wins; a conflicting
// explicit tenant is rejected. Without auth the request must name one.
func (s *Server) resolveTenant(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	authTenant := TenantIDFromContext(r.Context())

	if authTenant != "" {
		if requested != "" && requested != authTenant {
			WriteErrorMessage(w, r, http.StatusForbidden, CodeForbidden, "tenant_id does not match token")
			return "", false
		}
		return authTenant, true
	}

	if requested == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest, "tenant_id is required")
		return "", false
	}
	return requested, true
}
