// Package firestore provides a Firestore implementation of the trialtrack.Storage
// interface. This implementation uses Google Cloud Firestore for production-grade
// lifecycle persistence.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// maxBatchSize is the cap on writes per underlying batch. Firestore allows
// 500; 450 leaves headroom for bookkeeping writes.
const maxBatchSize = 450

// Storage implements trialtrack.Storage using Google Cloud Firestore
type Storage struct {
	client         *firestore.Client
	appsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// AppsCollection is the root Firestore collection holding one document per
	// app slug, with "users" and "cohorts" subcollections underneath.
	// Default: "apps"
	AppsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.AppsCollection == "" {
		config.AppsCollection = "apps"
	}

	return &Storage{
		client:         client,
		appsCollection: config.AppsCollection,
	}, nil
}

// GetUser implements trialtrack.Storage
func (s *Storage) GetUser(ctx context.Context, appSlug, userID string) (*trialtrack.UserRecord, error) {
	snap, err := s.userDoc(appSlug, userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, trialtrack.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}
	if !snap.Exists() {
		return nil, trialtrack.ErrUserNotFound
	}

	data := snap.Data()
	return &trialtrack.UserRecord{
		AppSlug:        appSlug,
		UserID:         userID,
		Status:         trialtrack.Status(getString(data, "status")),
		ProductID:      getString(data, "product_id"),
		TrialStartDate: getString(data, "trial_start_date"),
		LastEventType:  getString(data, "last_event_type"),
		UpdatedAt:      getTime(data, "updated_at"),
	}, nil
}

// SetUser implements trialtrack.Storage. Only fields the caller set are
// written; MergeAll leaves everything else untouched.
func (s *Storage) SetUser(ctx context.Context, rec *trialtrack.UserRecord) error {
	if rec == nil || rec.AppSlug == "" || rec.UserID == "" {
		return fmt.Errorf("%w: user record needs app and user id", trialtrack.ErrInvalidRecord)
	}

	data := map[string]interface{}{}
	if rec.Status != trialtrack.StatusNone {
		data["status"] = string(rec.Status)
	}
	if rec.ProductID != "" {
		data["product_id"] = rec.ProductID
	}
	if rec.TrialStartDate != "" {
		data["trial_start_date"] = rec.TrialStartDate
	}
	if rec.LastEventType != "" {
		data["last_event_type"] = rec.LastEventType
	}
	if rec.UpdatedAt.IsZero() {
		data["updated_at"] = time.Now().UTC()
	} else {
		data["updated_at"] = rec.UpdatedAt
	}

	_, err := s.userDoc(rec.AppSlug, rec.UserID).Set(ctx, data, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to set user record: %w", err)
	}
	return nil
}

// GetCohort implements trialtrack.Storage
func (s *Storage) GetCohort(ctx context.Context, appSlug, date string) (*trialtrack.CohortRecord, error) {
	snap, err := s.cohortDoc(appSlug, date).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, trialtrack.ErrCohortNotFound
		}
		return nil, fmt.Errorf("failed to get cohort record: %w", err)
	}
	if !snap.Exists() {
		return nil, trialtrack.ErrCohortNotFound
	}

	return cohortFromData(appSlug, date, snap.Data()), nil
}

// ApplyTransition implements trialtrack.Storage with a transaction-safe
// read-modify-write. Firestore serializes concurrent transactions touching the
// same cohort document and retries conflicts internally; only terminal errors
// surface here.
func (s *Storage) ApplyTransition(ctx context.Context, t *trialtrack.Transition) (*trialtrack.CohortRecord, error) {
	if t == nil || t.AppSlug == "" || t.Date == "" {
		return nil, fmt.Errorf("%w: transition needs app and date", trialtrack.ErrInvalidRecord)
	}

	doc := s.cohortDoc(t.AppSlug, t.Date)
	var updated *trialtrack.CohortRecord

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		rec := &trialtrack.CohortRecord{AppSlug: t.AppSlug, Date: t.Date}
		if err == nil && snap.Exists() {
			rec = cohortFromData(t.AppSlug, t.Date, snap.Data())
		}

		rec.Apply(*t)
		rec.UpdatedAt = time.Now().UTC()
		updated = rec

		return tx.Set(doc, cohortToData(rec))
	})
	if err != nil {
		return nil, fmt.Errorf("cohort transaction failed: %w", err)
	}

	return updated, nil
}

// ImportCohorts implements trialtrack.Storage. Records are written in
// overwriting batches of at most maxBatchSize.
func (s *Storage) ImportCohorts(ctx context.Context, appSlug string, records []*trialtrack.CohortRecord) error {
	for start := 0; start < len(records); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(records) {
			end = len(records)
		}

		bw := s.client.BulkWriter(ctx)
		jobs := make([]*firestore.BulkWriterJob, 0, end-start)
		for _, rec := range records[start:end] {
			if rec == nil || rec.Date == "" {
				bw.End()
				return fmt.Errorf("%w: cohort record needs a date", trialtrack.ErrInvalidRecord)
			}
			recCopy := *rec
			recCopy.AppSlug = appSlug
			if recCopy.UpdatedAt.IsZero() {
				recCopy.UpdatedAt = time.Now().UTC()
			}
			// Plain Set: last write wins, no merge with classifier-derived state.
			job, err := bw.Set(s.cohortDoc(appSlug, recCopy.Date), cohortToData(&recCopy))
			if err != nil {
				bw.End()
				return fmt.Errorf("failed to enqueue cohort write: %w", err)
			}
			jobs = append(jobs, job)
		}
		bw.End()

		// End only flushes; per-write outcomes surface through the jobs.
		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return fmt.Errorf("cohort write failed: %w", err)
			}
		}
	}
	return nil
}

// ListCohorts implements trialtrack.Storage. Cohort documents are keyed by
// date string, so ordering by document ID yields date order.
func (s *Storage) ListCohorts(ctx context.Context, appSlug string) ([]*trialtrack.CohortRecord, error) {
	iter := s.cohortsRef(appSlug).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var records []*trialtrack.CohortRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list cohorts: %w", err)
		}
		records = append(records, cohortFromData(appSlug, snap.Ref.ID, snap.Data()))
	}
	return records, nil
}

func (s *Storage) userDoc(appSlug, userID string) *firestore.DocumentRef {
	return s.client.Collection(s.appsCollection).Doc(appSlug).Collection("users").Doc(userID)
}

func (s *Storage) cohortDoc(appSlug, date string) *firestore.DocumentRef {
	return s.cohortsRef(appSlug).Doc(date)
}

func (s *Storage) cohortsRef(appSlug string) *firestore.CollectionRef {
	return s.client.Collection(s.appsCollection).Doc(appSlug).Collection("cohorts")
}

func cohortFromData(appSlug, date string, data map[string]interface{}) *trialtrack.CohortRecord {
	return &trialtrack.CohortRecord{
		AppSlug:        appSlug,
		Date:           date,
		TotalTrials:    getInt(data, "total_trials"),
		InTrial:        getInt(data, "in_trial"),
		Converted:      getInt(data, "converted"),
		Cancelled:      getInt(data, "cancelled"),
		BillingIssue:   getInt(data, "billing_issue"),
		ConversionRate: getFloat(data, "conversion_rate"),
		CancelRate:     getFloat(data, "cancel_rate"),
		BillingRate:    getFloat(data, "billing_rate"),
		UpdatedAt:      getTime(data, "updated_at"),
	}
}

func cohortToData(rec *trialtrack.CohortRecord) map[string]interface{} {
	return map[string]interface{}{
		"total_trials":    rec.TotalTrials,
		"in_trial":        rec.InTrial,
		"converted":       rec.Converted,
		"cancelled":       rec.Cancelled,
		"billing_issue":   rec.BillingIssue,
		"conversion_rate": rec.ConversionRate,
		"cancel_rate":     rec.CancelRate,
		"billing_rate":    rec.BillingRate,
		"updated_at":      rec.UpdatedAt,
	}
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getFloat(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
