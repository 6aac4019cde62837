package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for cohort reports and user lookups
type Handler struct {
	config Config
	logger trialtrack.Logger
}

// GetCohorts returns all cohort records for one app, oldest first, plus an
// aggregate totals row recomputed across the whole listing
func (h *Handler) GetCohorts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slug := h.config.GetAppSlug(r)
	if slug == "" {
		h.handleError(w, r, fmt.Errorf("app slug not found in request"), http.StatusBadRequest)
		return
	}

	records, err := h.config.Manager.ListCohorts(ctx, slug)
	if err != nil {
		if errors.Is(err, trialtrack.ErrUnknownApp) {
			h.handleError(w, r, err, http.StatusNotFound)
			return
		}
		h.logger.Error("cohort listing failed",
			trialtrack.Field{Key: "app", Value: slug},
			trialtrack.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("failed to list cohorts"), http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []*trialtrack.CohortRecord{}
	}
	report := CohortReport{
		App:     slug,
		Cohorts: records,
		Totals:  aggregate(records),
	}
	writeJSON(w, http.StatusOK, report)
}

// GetUser returns the current lifecycle record of one user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slug := h.config.GetAppSlug(r)
	if slug == "" {
		h.handleError(w, r, fmt.Errorf("app slug not found in request"), http.StatusBadRequest)
		return
	}
	if h.config.GetUserID == nil {
		h.handleError(w, r, fmt.Errorf("user lookup not configured"), http.StatusNotFound)
		return
	}
	userID := h.config.GetUserID(r)
	if userID == "" || len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID"), http.StatusBadRequest)
		return
	}
	if h.config.Manager.Apps().Get(slug) == nil {
		h.handleError(w, r, fmt.Errorf("%w: %s", trialtrack.ErrUnknownApp, slug), http.StatusNotFound)
		return
	}

	rec, err := h.config.Manager.GetUser(ctx, slug, userID)
	if err != nil {
		if errors.Is(err, trialtrack.ErrUserNotFound) {
			h.handleError(w, r, err, http.StatusNotFound)
			return
		}
		h.logger.Error("user lookup failed",
			trialtrack.Field{Key: "app", Value: slug},
			trialtrack.Field{Key: "error", Value: err.Error()})
		h.handleError(w, r, fmt.Errorf("failed to look up user"), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{App: slug, User: rec})
}

// aggregate sums the bucket counters of all cohorts and derives rates over
// the combined population
func aggregate(records []*trialtrack.CohortRecord) ReportTotals {
	var t ReportTotals
	for _, rec := range records {
		if rec == nil {
			continue
		}
		t.TotalTrials += rec.TotalTrials
		t.InTrial += rec.InTrial
		t.Converted += rec.Converted
		t.Cancelled += rec.Cancelled
		t.BillingIssue += rec.BillingIssue
	}
	t.ConversionRate = trialtrack.Rate(t.Converted, t.TotalTrials)
	t.CancelRate = trialtrack.Rate(t.Cancelled, t.TotalTrials)
	t.BillingRate = trialtrack.Rate(t.BillingIssue, t.TotalTrials)
	return t
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, statusCode, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response already sent
		return
	}
}
