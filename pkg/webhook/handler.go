package webhook

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
	"github.com/tangentapps/trialtrack/pkg/internal"
)

const eventTypeTest = "TEST"

// Response is the JSON body returned for every webhook request
type Response struct {
	Status     string                   `json:"status"`
	Reason     string                   `json:"reason,omitempty"`
	App        string                   `json:"app,omitempty"`
	UserStatus string                   `json:"user_status,omitempty"`
	Cohort     *trialtrack.CohortRecord `json:"cohort,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Handler processes incoming subscription webhook events
type Handler struct {
	manager      *trialtrack.Manager
	secret       []byte
	maxBodyBytes int64
	rateLimiter  *internal.RateLimiter
	logger       trialtrack.Logger
	metrics      trialtrack.Metrics
}

// NewHandler creates a webhook handler from the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Allow the secret to be provided as a Bearer token and strip the prefix.
	secret := strings.TrimSpace(config.Secret)
	if strings.HasPrefix(strings.ToLower(secret), "bearer ") {
		secret = strings.TrimSpace(secret[len("bearer "):])
	}

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	logger := config.Logger
	if logger == nil {
		logger = &trialtrack.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &trialtrack.NoopMetrics{}
	}

	return &Handler{
		manager:      config.Manager,
		secret:       []byte(secret),
		maxBodyBytes: maxBody,
		rateLimiter:  internal.NewRateLimiter(rateLimit, window),
		logger:       logger,
		metrics:      metrics,
	}, nil
}

// Handler returns the HTTP handler for webhook requests, wrapped with
// per-IP rate limiting
func (h *Handler) Handler() http.Handler {
	return h.rateLimiter.Middleware(http.HandlerFunc(h.ServeHTTP))
}

// ServeHTTP processes a single webhook request
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		internal.WriteJSON(w, http.StatusMethodNotAllowed, Response{
			Status: "error",
			Error:  "method not allowed",
		})
		return
	}

	if !h.authorize(r) {
		internal.WriteJSON(w, http.StatusUnauthorized, Response{
			Status: "error",
			Error:  "unauthorized",
		})
		h.metrics.RecordEvent("", "unknown", "auth_failed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		code := http.StatusBadRequest
		reason := "invalid_payload"
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			code = http.StatusRequestEntityTooLarge
			reason = "payload_too_large"
		}
		internal.WriteJSON(w, code, Response{
			Status: "error",
			Error:  err.Error(),
		})
		h.metrics.RecordEvent("", "unknown", reason)
		return
	}

	event, err := ParseEvent(body)
	if err != nil {
		internal.WriteJSON(w, http.StatusBadRequest, Response{
			Status: "error",
			Error:  "invalid JSON payload",
		})
		h.metrics.RecordEvent("", "unknown", "invalid_payload")
		return
	}

	// Path-based app hint takes precedence over any payload field,
	// e.g. POST /v1/webhook/girlwalk.
	if hint := appHintFromPath(r.URL.Path); hint != "" {
		event.AppHint = hint
	}

	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	// Providers send a TEST event when a webhook endpoint is first
	// configured. Acknowledge without touching storage.
	if strings.EqualFold(eventType, eventTypeTest) {
		internal.WriteJSON(w, http.StatusOK, Response{Status: "skipped", Reason: "test_event"})
		h.metrics.RecordEvent(event.AppHint, eventTypeTest, "skipped")
		h.metrics.RecordEventDuration(event.AppHint, eventTypeTest, time.Since(startTime))
		return
	}

	result, err := h.manager.ProcessEvent(r.Context(), event)
	if err != nil {
		h.logger.Error("webhook event processing failed",
			trialtrack.Field{Key: "event_type", Value: eventType},
			trialtrack.Field{Key: "error", Value: err.Error()},
		)
		internal.WriteJSON(w, http.StatusInternalServerError, Response{
			Status: "error",
			Error:  "failed to process event",
		})
		h.metrics.RecordEvent(event.AppHint, eventType, "error")
		h.metrics.RecordEventDuration(event.AppHint, eventType, time.Since(startTime))
		return
	}

	resp := Response{Status: string(result.Outcome)}
	if result.Outcome == trialtrack.OutcomeSkipped {
		resp.Reason = result.SkipReason
	} else {
		resp.App = result.AppSlug
		resp.UserStatus = string(result.Status)
		resp.Cohort = result.Cohort
	}
	internal.WriteJSON(w, http.StatusOK, resp)

	h.metrics.RecordEvent(result.AppSlug, eventType, string(result.Outcome))
	h.metrics.RecordEventDuration(result.AppSlug, eventType, time.Since(startTime))
}

// authorize validates the bearer token when a secret is configured
func (h *Handler) authorize(r *http.Request) bool {
	if len(h.secret) == 0 {
		return true
	}
	token := extractBearerToken(r)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), h.secret) == 1
}

// extractBearerToken extracts the authentication token from the request
func extractBearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[len("bearer "):])
	}
	// Allow direct token (rare)
	return authHeader
}

// appHintFromPath returns the path segment following "webhook", if
// any, e.g. /v1/webhook/girlwalk names the girlwalk app
func appHintFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "webhook" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
