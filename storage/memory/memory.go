// Package memory provides an in-memory implementation of the trialtrack.Storage
// interface. This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// Storage implements trialtrack.Storage using in-memory maps
type Storage struct {
	mu      sync.Mutex
	users   map[string]*trialtrack.UserRecord
	cohorts map[string]*trialtrack.CohortRecord
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users:   make(map[string]*trialtrack.UserRecord),
		cohorts: make(map[string]*trialtrack.CohortRecord),
	}
}

// GetUser implements trialtrack.Storage
func (s *Storage) GetUser(ctx context.Context, appSlug, userID string) (*trialtrack.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userKey(appSlug, userID)]
	if !ok {
		return nil, trialtrack.ErrUserNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// SetUser implements trialtrack.Storage with merge semantics
func (s *Storage) SetUser(ctx context.Context, rec *trialtrack.UserRecord) error {
	if rec == nil || rec.AppSlug == "" || rec.UserID == "" {
		return fmt.Errorf("%w: user record needs app and user id", trialtrack.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(rec.AppSlug, rec.UserID)
	merged := *rec
	if existing, ok := s.users[key]; ok {
		if merged.Status == trialtrack.StatusNone {
			merged.Status = existing.Status
		}
		if merged.ProductID == "" {
			merged.ProductID = existing.ProductID
		}
		if merged.TrialStartDate == "" {
			merged.TrialStartDate = existing.TrialStartDate
		}
		if merged.LastEventType == "" {
			merged.LastEventType = existing.LastEventType
		}
	}
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = time.Now().UTC()
	}

	s.users[key] = &merged
	return nil
}

// GetCohort implements trialtrack.Storage
func (s *Storage) GetCohort(ctx context.Context, appSlug, date string) (*trialtrack.CohortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cohorts[cohortKey(appSlug, date)]
	if !ok {
		return nil, trialtrack.ErrCohortNotFound
	}

	recCopy := *rec
	return &recCopy, nil
}

// ApplyTransition implements trialtrack.Storage. The single mutex serializes
// all transitions, which satisfies the per-cohort isolation contract.
func (s *Storage) ApplyTransition(ctx context.Context, t *trialtrack.Transition) (*trialtrack.CohortRecord, error) {
	if t == nil || t.AppSlug == "" || t.Date == "" {
		return nil, fmt.Errorf("%w: transition needs app and date", trialtrack.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := cohortKey(t.AppSlug, t.Date)
	rec, ok := s.cohorts[key]
	if !ok {
		rec = &trialtrack.CohortRecord{AppSlug: t.AppSlug, Date: t.Date}
	}

	rec.Apply(*t)
	rec.UpdatedAt = time.Now().UTC()
	s.cohorts[key] = rec

	recCopy := *rec
	return &recCopy, nil
}

// ImportCohorts implements trialtrack.Storage with last-write-wins overwrites
func (s *Storage) ImportCohorts(ctx context.Context, appSlug string, records []*trialtrack.CohortRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec == nil || rec.Date == "" {
			return fmt.Errorf("%w: cohort record needs a date", trialtrack.ErrInvalidRecord)
		}
		recCopy := *rec
		recCopy.AppSlug = appSlug
		if recCopy.UpdatedAt.IsZero() {
			recCopy.UpdatedAt = time.Now().UTC()
		}
		s.cohorts[cohortKey(appSlug, rec.Date)] = &recCopy
	}
	return nil
}

// ListCohorts implements trialtrack.Storage
func (s *Storage) ListCohorts(ctx context.Context, appSlug string) ([]*trialtrack.CohortRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := cohortKey(appSlug, "")
	records := make([]*trialtrack.CohortRecord, 0)
	for key, rec := range s.cohorts {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		recCopy := *rec
		records = append(records, &recCopy)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Date < records[j].Date
	})
	return records, nil
}

func userKey(appSlug, userID string) string {
	return fmt.Sprintf("%s/users/%s", appSlug, userID)
}

func cohortKey(appSlug, date string) string {
	return fmt.Sprintf("%s/cohorts/%s", appSlug, date)
}
