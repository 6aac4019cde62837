package trialtrack

import "context"

// Storage defines the interface for lifecycle persistence.
// All methods use concrete types from this package to avoid import cycles.
type Storage interface {
	// GetUser retrieves a user's current record.
	// Returns ErrUserNotFound when the user has never been observed.
	GetUser(ctx context.Context, appSlug, userID string) (*UserRecord, error)

	// SetUser stores a user record with merge semantics: fields the caller
	// left at their zero value are untouched in the stored record.
	SetUser(ctx context.Context, rec *UserRecord) error

	// GetCohort retrieves one cohort record.
	// Returns ErrCohortNotFound when no event has touched the cohort yet.
	GetCohort(ctx context.Context, appSlug, date string) (*CohortRecord, error)

	// ApplyTransition applies one status transition to exactly one cohort
	// record inside an atomic read-modify-write. Concurrent transitions
	// against the same cohort key are serialized by the backend; transient
	// conflicts are retried by the backend's own transaction mechanism.
	// Returns the updated record.
	ApplyTransition(ctx context.Context, t *Transition) (*CohortRecord, error)

	// ImportCohorts writes externally computed cohort records directly,
	// overwriting any existing record at the same key (last-write-wins,
	// no merge). Writes are batched at no more than 450 per underlying batch.
	ImportCohorts(ctx context.Context, appSlug string, records []*CohortRecord) error

	// ListCohorts returns all cohort records for an app, ordered by date key.
	ListCohorts(ctx context.Context, appSlug string) ([]*CohortRecord, error)
}
