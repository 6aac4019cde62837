package trialtrack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Skip reasons reported for events that are acknowledged without writes.
const (
	SkipSandboxEvent      = "sandbox_event"
	SkipMissingUserID     = "missing_user_id"
	SkipUnknownApp        = "unknown_app"
	SkipUnclassifiedEvent = "unclassified_event"
)

const environmentProduction = "PRODUCTION"

// Config holds manager configuration
type Config struct {
	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking event processing (default: NoopMetrics)
	Metrics Metrics
}

// Manager orchestrates event classification and the per-user / per-cohort writes.
type Manager struct {
	storage Storage
	apps    *AppSet
	logger  Logger
	metrics Metrics
}

// NewManager creates a new manager with the given storage, app set and configuration.
func NewManager(storage Storage, apps *AppSet, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if apps == nil {
		return nil, fmt.Errorf("app set is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	return &Manager{
		storage: storage,
		apps:    apps,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Apps returns the configured app set.
func (m *Manager) Apps() *AppSet {
	return m.apps
}

// ProcessEvent classifies one lifecycle event and applies it: the user record
// is merged first, then the user's contribution is moved between cohort
// buckets in one atomic cohort transaction. The two writes cross two entities
// and are deliberately not atomic with each other; an INITIAL_PURCHASE
// delivered twice concurrently can double count total_trials. Events that
// carry no usable data are acknowledged with OutcomeSkipped and cause no writes.
func (m *Manager) ProcessEvent(ctx context.Context, ev *Event) (*Result, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrInvalidRecord)
	}

	if ev.Environment != "" && !strings.EqualFold(ev.Environment, environmentProduction) {
		m.logger.Debug("skipping non-production event",
			Field{Key: "environment", Value: ev.Environment})
		return &Result{Outcome: OutcomeSkipped, SkipReason: SkipSandboxEvent}, nil
	}

	if strings.TrimSpace(ev.UserID) == "" {
		return &Result{Outcome: OutcomeSkipped, SkipReason: SkipMissingUserID}, nil
	}

	eventType := strings.TrimSpace(ev.Type)

	app := m.apps.Resolve(ev.AppHint, ev.ProductID)
	if app == nil {
		m.logger.Warn("event for unresolvable app",
			Field{Key: "hint", Value: ev.AppHint},
			Field{Key: "product_id", Value: ev.ProductID})
		return &Result{Outcome: OutcomeSkipped, SkipReason: SkipUnknownApp}, nil
	}

	status, ok := Classify(eventType, ev.CancelReason, ev.PeriodType)
	if !ok {
		m.logger.Debug("unclassified event type",
			Field{Key: "app", Value: app.Slug},
			Field{Key: "type", Value: eventType})
		return &Result{Outcome: OutcomeSkipped, SkipReason: SkipUnclassifiedEvent, AppSlug: app.Slug}, nil
	}

	prev, err := m.getUser(ctx, app.Slug, ev.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}

	// trial_start_date is first-write-wins: once set it is never overwritten,
	// even when a later event carries a different purchase timestamp.
	trialStart := DateKeyFromMillis(ev.PurchasedAtMs)
	previousStatus := StatusNone
	if prev != nil {
		previousStatus = prev.Status
		if prev.TrialStartDate != "" {
			trialStart = prev.TrialStartDate
		}
	}

	isNewTrial := eventType == EventInitialPurchase && prev == nil

	rec := &UserRecord{
		AppSlug:        app.Slug,
		UserID:         ev.UserID,
		Status:         status,
		ProductID:      ev.ProductID,
		TrialStartDate: trialStart,
		LastEventType:  eventType,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := m.setUser(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to write user record: %w", err)
	}

	result := &Result{
		Outcome: OutcomeOK,
		AppSlug: app.Slug,
		Status:  status,
	}

	if trialStart != "" {
		cohort, err := m.applyTransition(ctx, &Transition{
			AppSlug:    app.Slug,
			Date:       trialStart,
			IsNewTrial: isNewTrial,
			Previous:   previousStatus,
			New:        status,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update cohort: %w", err)
		}
		result.Cohort = cohort
		m.metrics.RecordTransition(app.Slug, previousStatus, status)

		m.logger.Info("event applied",
			Field{Key: "app", Value: app.Slug},
			Field{Key: "type", Value: ev.Type},
			Field{Key: "status", Value: string(status)},
			Field{Key: "cohort", Value: trialStart},
			Field{Key: "new_trial", Value: isNewTrial})
	} else {
		m.logger.Info("event applied without cohort (no purchase timestamp)",
			Field{Key: "app", Value: app.Slug},
			Field{Key: "type", Value: ev.Type},
			Field{Key: "status", Value: string(status)})
	}

	return result, nil
}

// ImportCohorts bulk-writes externally computed cohort records for an app,
// overwriting any existing records at the same date keys.
func (m *Manager) ImportCohorts(ctx context.Context, appSlug string, records []*CohortRecord) error {
	if m.apps.Get(appSlug) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownApp, appSlug)
	}
	for _, rec := range records {
		if rec == nil || !ValidDateKey(rec.Date) {
			return fmt.Errorf("%w: cohort record needs a YYYY-MM-DD date", ErrInvalidRecord)
		}
	}

	start := time.Now()
	err := m.storage.ImportCohorts(ctx, appSlug, records)
	m.metrics.RecordStorageOperation("import_cohorts", time.Since(start), err)
	if err != nil {
		m.metrics.RecordImport(appSlug, "error", len(records))
		return fmt.Errorf("failed to import cohorts: %w", err)
	}
	m.metrics.RecordImport(appSlug, "success", len(records))
	m.logger.Info("cohorts imported",
		Field{Key: "app", Value: appSlug},
		Field{Key: "records", Value: len(records)})
	return nil
}

// ListCohorts returns all cohort records for an app, ordered by date.
func (m *Manager) ListCohorts(ctx context.Context, appSlug string) ([]*CohortRecord, error) {
	if m.apps.Get(appSlug) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, appSlug)
	}

	start := time.Now()
	records, err := m.storage.ListCohorts(ctx, appSlug)
	m.metrics.RecordStorageOperation("list_cohorts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list cohorts: %w", err)
	}
	return records, nil
}

// GetUser returns a user's current record.
func (m *Manager) GetUser(ctx context.Context, appSlug, userID string) (*UserRecord, error) {
	return m.getUser(ctx, appSlug, userID)
}

func (m *Manager) getUser(ctx context.Context, appSlug, userID string) (*UserRecord, error) {
	start := time.Now()
	rec, err := m.storage.GetUser(ctx, appSlug, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		m.metrics.RecordStorageOperation("get_user", time.Since(start), err)
		return nil, err
	}
	m.metrics.RecordStorageOperation("get_user", time.Since(start), nil)
	return rec, err
}

func (m *Manager) setUser(ctx context.Context, rec *UserRecord) error {
	start := time.Now()
	err := m.storage.SetUser(ctx, rec)
	m.metrics.RecordStorageOperation("set_user", time.Since(start), err)
	return err
}

func (m *Manager) applyTransition(ctx context.Context, t *Transition) (*CohortRecord, error) {
	start := time.Now()
	rec, err := m.storage.ApplyTransition(ctx, t)
	m.metrics.RecordStorageOperation("apply_transition", time.Since(start), err)
	return rec, err
}
