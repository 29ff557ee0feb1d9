// Package gateway is the HTTP serving surface: client auth, injection
// screening, query processing, PII redaction on the way out, and the
// report, audit, health, and metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/costpilot-ai/costpilot/pkg/audit"
	"github.com/costpilot-ai/costpilot/pkg/backend"
	"github.com/costpilot-ai/costpilot/pkg/cache"
	"github.com/costpilot-ai/costpilot/pkg/config"
	"github.com/costpilot-ai/costpilot/pkg/guard"
	"github.com/costpilot-ai/costpilot/pkg/metrics"
	"github.com/costpilot-ai/costpilot/pkg/models"
	"github.com/costpilot-ai/costpilot/pkg/optimizer"
	"github.com/costpilot-ai/costpilot/pkg/pricing"
	"github.com/costpilot-ai/costpilot/pkg/stats"
)

// DefaultProjectionVolume is the request volume used for report
// projections when the caller does not pass one.
const DefaultProjectionVolume = 1_000_000

// Server is the CostPilot gateway.
type Server struct {
	cfg       *config.Config
	processor *optimizer.Processor
	auditor   *audit.Logger
	metrics   *metrics.Metrics
	logger    *zap.Logger
	pii       *guard.PIIFilter
	injection *guard.InjectionScanner
	keys      map[string]struct{}
	checks    map[string]func(context.Context) error
	mux       *http.ServeMux
}

// New creates a gateway Server wired with all dependencies. auditor and
// m may be nil.
func New(cfg *config.Config, p *optimizer.Processor, auditor *audit.Logger, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		processor: p,
		auditor:   auditor,
		metrics:   m,
		logger:    logger,
		pii:       guard.NewPIIFilter(),
		injection: guard.NewInjectionScanner(nil),
		keys:      make(map[string]struct{}, len(cfg.Gateway.APIKeys)),
		checks:    make(map[string]func(context.Context) error),
		mux:       http.NewServeMux(),
	}
	for _, k := range cfg.Gateway.APIKeys {
		s.keys[k] = struct{}{}
	}
	s.mux.HandleFunc("/v1/queries", s.handleQuery)
	s.mux.HandleFunc("/v1/report", s.handleReport)
	s.mux.HandleFunc("/v1/audit", s.handleAudit)
	s.mux.HandleFunc("/v1/audit/security", s.handleSecurityEvents)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if m != nil {
		s.mux.Handle("/metrics", m.Handler())
	}
	return s
}

// AddHealthCheck registers a named reachability probe reported by
// /healthz. Register before ListenAndServe.
func (s *Server) AddHealthCheck(name string, fn func(context.Context) error) {
	s.checks[name] = fn
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the gateway with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

type tokensPayload struct {
	Prompt     float64 `json:"prompt"`
	Completion float64 `json:"completion"`
	Estimated  bool    `json:"estimated"`
}

type queryResponse struct {
	RequestID    string          `json:"request_id"`
	Outcome      string          `json:"outcome"`
	Tier         pricing.Tier    `json:"tier"`
	Response     string          `json:"response"`
	Cost         float64         `json:"cost"`
	BaselineCost float64         `json:"baseline_cost"`
	Savings      float64         `json:"savings"`
	Cached       bool            `json:"cached"`
	LatencyMs    int64           `json:"latency_ms"`
	Tokens       tokensPayload   `json:"tokens"`
	PIIFindings  []guard.Finding `json:"pii_findings,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	clientKey, ok := s.authenticate(r)
	if !ok {
		s.recordSecurityEvent("auth_failure", "warn", "missing or unknown API key", clientKey)
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid API key")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)
	promptHash := cache.Hash(cache.Normalize(req.Query))

	if phrase, blocked := s.injection.Check(req.Query); blocked {
		s.recordSecurityEvent("injection_blocked", "error",
			fmt.Sprintf("matched phrase %q", phrase), clientKey)
		s.recordAudit(models.AuditEntry{
			RequestID:       requestID,
			PromptHash:      promptHash,
			ClientKeyPrefix: audit.KeyPrefix(clientKey),
			Outcome:         "blocked",
			CreatedAt:       time.Now().UTC(),
		})
		writeJSONError(w, http.StatusBadRequest, "query rejected by safety filter")
		return
	}

	ctx := r.Context()
	if s.cfg.Gateway.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Gateway.RequestTimeout)
		defer cancel()
	}

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}

	start := time.Now()
	outcome, err := s.processor.Process(ctx, req.Query)
	if err != nil {
		if !errors.Is(err, optimizer.ErrEmptyQuery) {
			s.recordAudit(models.AuditEntry{
				RequestID:       requestID,
				PromptHash:      promptHash,
				ClientKeyPrefix: audit.KeyPrefix(clientKey),
				Outcome:         "failed",
				LatencyMs:       time.Since(start).Milliseconds(),
				CreatedAt:       time.Now().UTC(),
			})
		}
		s.writeProcessError(w, err)
		return
	}

	redacted, findings := s.pii.Scan(outcome.Response)
	if len(findings) > 0 {
		s.recordSecurityEvent("pii_redacted", "warn",
			fmt.Sprintf("%d finding categories in response", len(findings)), clientKey)
	}

	resp := queryResponse{
		RequestID:    requestID,
		Outcome:      string(outcome.Kind),
		Tier:         outcome.Tier,
		Response:     redacted,
		Cost:         outcome.Cost,
		BaselineCost: outcome.BaselineCost,
		Savings:      outcome.Savings(),
		Cached:       outcome.Kind == models.OutcomeCacheHit,
		LatencyMs:    time.Since(start).Milliseconds(),
		Tokens: tokensPayload{
			Prompt:     outcome.Tokens.Prompt,
			Completion: outcome.Tokens.Completion,
			Estimated:  outcome.Tokens.Estimated,
		},
		PIIFindings: findings,
	}

	s.recordAudit(models.AuditEntry{
		RequestID:        requestID,
		PromptHash:       promptHash,
		ClientKeyPrefix:  audit.KeyPrefix(clientKey),
		Outcome:          string(outcome.Kind),
		Tier:             outcome.Tier,
		Cost:             outcome.Cost,
		PromptTokens:     outcome.Tokens.Prompt,
		CompletionTokens: outcome.Tokens.Completion,
		Estimated:        outcome.Tokens.Estimated,
		Response:         redacted,
		LatencyMs:        resp.LatencyMs,
		CreatedAt:        time.Now().UTC(),
	})

	writeJSON(w, http.StatusOK, resp)
}

// reportResponse is the /v1/report payload.
type reportResponse struct {
	Report     stats.Report     `json:"report"`
	Projection stats.Projection `json:"projection"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	volume := int64(DefaultProjectionVolume)
	if v := r.URL.Query().Get("volume"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "volume must be a positive integer")
			return
		}
		volume = n
	}
	report := stats.BuildReport(s.processor.Stats().Snapshot())
	writeJSON(w, http.StatusOK, reportResponse{
		Report:     report,
		Projection: report.Project(volume),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.authenticate(r); !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid API key")
		return
	}
	if s.auditor == nil {
		writeJSONError(w, http.StatusNotFound, "audit trail disabled")
		return
	}
	opts := models.AuditQueryOpts{
		RequestID: r.URL.Query().Get("request_id"),
		Outcome:   r.URL.Query().Get("outcome"),
		Tier:      pricing.Tier(r.URL.Query().Get("tier")),
	}
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		opts.Since = ts
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	entries, err := s.auditor.Query(r.Context(), opts)
	if err != nil {
		s.logger.Error("audit query failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.authenticate(r); !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid API key")
		return
	}
	if s.auditor == nil {
		writeJSONError(w, http.StatusNotFound, "audit trail disabled")
		return
	}
	events, err := s.auditor.SecurityEvents(r.Context(), 0)
	if err != nil {
		s.logger.Error("security event query failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "security event query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleHealth reports liveness plus per-component reachability. A
// degraded component does not fail the endpoint: the gateway keeps
// serving with a degraded cache, so liveness stays 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	components := make(map[string]string, len(s.checks))
	for name, fn := range s.checks {
		if err := fn(ctx); err != nil {
			components[name] = "unreachable"
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
	})
}

// authenticate returns the client key and whether the request may
// proceed. With no keys configured the gateway is open.
func (s *Server) authenticate(r *http.Request) (string, bool) {
	key := extractAPIKey(r)
	if len(s.keys) == 0 {
		return key, true
	}
	if key == "" {
		return "", false
	}
	_, ok := s.keys[key]
	return key, ok
}

// writeProcessError maps processor errors to HTTP status codes. Upstream
// auth and malformed-response failures are the gateway's fault from the
// client's point of view, so both map to 502.
func (s *Server) writeProcessError(w http.ResponseWriter, err error) {
	var (
		timeoutErr  *backend.TimeoutError
		authErr     *backend.AuthError
		responseErr *backend.ResponseError
	)
	switch {
	case errors.Is(err, optimizer.ErrEmptyQuery):
		writeJSONError(w, http.StatusBadRequest, "query must not be empty")
	case errors.As(err, &timeoutErr):
		writeJSONError(w, http.StatusGatewayTimeout, "model backend timed out")
	case errors.As(err, &authErr):
		writeJSONError(w, http.StatusBadGateway, "model backend rejected credentials")
	case errors.As(err, &responseErr):
		writeJSONError(w, http.StatusBadGateway, "model backend returned an invalid response")
	default:
		writeJSONError(w, http.StatusInternalServerError, "query processing failed")
	}
}

// recordAudit writes an audit row off the request path.
func (s *Server) recordAudit(entry models.AuditEntry) {
	if s.auditor == nil {
		return
	}
	go func() {
		if err := s.auditor.Log(context.Background(), entry); err != nil {
			s.logger.Warn("audit write failed", zap.Error(err))
		}
	}()
}

func (s *Server) recordSecurityEvent(event, severity, detail, clientKey string) {
	if s.auditor == nil {
		return
	}
	ev := models.SecurityEvent{
		Event:           event,
		Severity:        severity,
		Detail:          detail,
		ClientKeyPrefix: audit.KeyPrefix(clientKey),
		CreatedAt:       time.Now().UTC(),
	}
	go func() {
		if err := s.auditor.LogSecurityEvent(context.Background(), ev); err != nil {
			s.logger.Warn("security event write failed", zap.Error(err))
		}
	}()
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
