package backfill

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tangentapps/trialtrack/pkg/internal"
	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

const defaultMaxBodyBytes = 4 * 1024 * 1024

// Request is the JSON body of an import request
type Request struct {
	Slug    string                     `json:"slug"`
	Cohorts []*trialtrack.CohortRecord `json:"cohorts"`
}

// Response is the JSON body returned for every import request
type Response struct {
	Status   string `json:"status"`
	App      string `json:"app,omitempty"`
	Imported int    `json:"imported,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Config holds configuration for the import handler
type Config struct {
	// Manager performs the bulk write (required)
	Manager *trialtrack.Manager

	// Secret, when set, requires an exact bearer-token match on the
	// Authorization header. When empty, authentication is disabled.
	Secret string

	// MaxBodyBytes caps the request body size (default: 4MB, import
	// payloads carry months of cohort history)
	MaxBodyBytes int64

	// Logger is used for structured logging (default: NoopLogger)
	Logger trialtrack.Logger
}

// Handler accepts bulk cohort imports computed offline from historical
// provider exports and overwrites the stored records for those dates
type Handler struct {
	manager      *trialtrack.Manager
	secret       []byte
	maxBodyBytes int64
	logger       trialtrack.Logger
}

// NewHandler creates an import handler from the given configuration
func NewHandler(config Config) (*Handler, error) {
	if config.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}

	secret := strings.TrimSpace(config.Secret)
	if strings.HasPrefix(strings.ToLower(secret), "bearer ") {
		secret = strings.TrimSpace(secret[len("bearer "):])
	}

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	logger := config.Logger
	if logger == nil {
		logger = &trialtrack.NoopLogger{}
	}

	return &Handler{
		manager:      config.Manager,
		secret:       []byte(secret),
		maxBodyBytes: maxBody,
		logger:       logger,
	}, nil
}

// ServeHTTP processes a single import request
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		return
	}

	body, err := internal.ReadBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		internal.WriteJSON(w, code, Response{Status: "error", Error: err.Error()})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		internal.WriteJSON(w, http.StatusBadRequest, Response{
			Status: "error",
			Error:  "invalid JSON payload",
		})
		return
	}
	if req.Slug == "" {
		internal.WriteJSON(w, http.StatusBadRequest, Response{
			Status: "error",
			Error:  "slug is required",
		})
		return
	}
	if len(req.Cohorts) == 0 {
		internal.WriteJSON(w, http.StatusBadRequest, Response{
			Status: "error",
			Error:  "cohorts must not be empty",
		})
		return
	}

	if err := h.manager.ImportCohorts(r.Context(), req.Slug, req.Cohorts); err != nil {
		switch {
		case errors.Is(err, trialtrack.ErrUnknownApp):
			internal.WriteJSON(w, http.StatusNotFound, Response{
				Status: "error",
				Error:  err.Error(),
			})
		case errors.Is(err, trialtrack.ErrInvalidRecord):
			internal.WriteJSON(w, http.StatusBadRequest, Response{
				Status: "error",
				Error:  err.Error(),
			})
		default:
			h.logger.Error("cohort import failed",
				trialtrack.Field{Key: "app", Value: req.Slug},
				trialtrack.Field{Key: "error", Value: err.Error()})
			internal.WriteJSON(w, http.StatusInternalServerError, Response{
				Status: "error",
				Error:  "failed to import cohorts",
			})
		}
		return
	}

	internal.WriteJSON(w, http.StatusOK, Response{
		Status:   "ok",
		App:      req.Slug,
		Imported: len(req.Cohorts),
	})
}

func (h *Handler) authorize(r *http.Request) bool {
	if len(h.secret) == 0 {
		return true
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		authHeader = strings.TrimSpace(authHeader[len("bearer "):])
	}
	if authHeader == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(authHeader), h.secret) == 1
}
