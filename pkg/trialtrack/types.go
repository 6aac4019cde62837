package trialtrack

import (
	"math"
	"time"
)

// Status is a user's coarse subscription lifecycle status.
type Status string

const (
	// StatusInTrial means the user is still inside their free trial.
	StatusInTrial Status = "in_trial"
	// StatusConverted means the user has made at least one paid purchase.
	StatusConverted Status = "converted"
	// StatusCancelled means the user opted out or their subscription expired.
	StatusCancelled Status = "cancelled"
	// StatusBillingIssue means the subscription lapsed due to a payment problem.
	StatusBillingIssue Status = "billing_issue"
	// StatusNone means no status has been assigned yet.
	StatusNone Status = ""
)

// Known reports whether s is one of the four assigned lifecycle statuses.
func (s Status) Known() bool {
	switch s {
	case StatusInTrial, StatusConverted, StatusCancelled, StatusBillingIssue:
		return true
	}
	return false
}

// App is a statically configured application whose events this service tracks.
type App struct {
	// Slug is the unique short name, used as the routing hint and storage key
	Slug string `yaml:"slug"`

	// Name is the human-readable app name
	Name string `yaml:"name"`

	// Identifiers are substrings matched against incoming product identifiers
	// (bundle IDs, short codes). Matching is case-insensitive containment.
	Identifiers []string `yaml:"identifiers"`
}

// UserRecord is the current lifecycle state of one user of one app.
type UserRecord struct {
	AppSlug   string
	UserID    string
	Status    Status
	ProductID string

	// TrialStartDate is the user's cohort date key (YYYY-MM-DD, UTC).
	// Set once on first observation and never overwritten.
	TrialStartDate string

	LastEventType string
	UpdatedAt     time.Time
}

// CohortRecord aggregates all users whose trial started on the same UTC
// calendar date, for one app. The four bucket counters partition the users
// currently assigned a known status; TotalTrials only ever grows.
type CohortRecord struct {
	AppSlug string `json:"-"`
	Date    string `json:"date"`

	TotalTrials  int `json:"total_trials"`
	InTrial      int `json:"in_trial"`
	Converted    int `json:"converted"`
	Cancelled    int `json:"cancelled"`
	BillingIssue int `json:"billing_issue"`

	ConversionRate float64 `json:"conversion_rate"`
	CancelRate     float64 `json:"cancel_rate"`
	BillingRate    float64 `json:"billing_rate"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Transition describes one status movement to apply to a cohort record.
type Transition struct {
	AppSlug string
	Date    string

	// IsNewTrial increments TotalTrials. True only when the event is the very
	// first observation of the user and the event type is trial-initiating.
	IsNewTrial bool

	Previous Status
	New      Status
}

// Apply applies one transition to the record: moves the user's contribution
// out of the Previous bucket (clamped at zero, so reprocessing a retried
// event cannot drive a counter negative) and into the New bucket, then
// recomputes the derived rates.
func (r *CohortRecord) Apply(t Transition) {
	if t.IsNewTrial {
		r.TotalTrials++
	}
	if b := r.bucket(t.Previous); b != nil && *b > 0 {
		*b--
	}
	if b := r.bucket(t.New); b != nil {
		*b++
	}
	r.recomputeRates()
}

func (r *CohortRecord) bucket(s Status) *int {
	switch s {
	case StatusInTrial:
		return &r.InTrial
	case StatusConverted:
		return &r.Converted
	case StatusCancelled:
		return &r.Cancelled
	case StatusBillingIssue:
		return &r.BillingIssue
	}
	return nil
}

func (r *CohortRecord) recomputeRates() {
	r.ConversionRate = Rate(r.Converted, r.TotalTrials)
	r.CancelRate = Rate(r.Cancelled, r.TotalTrials)
	r.BillingRate = Rate(r.BillingIssue, r.TotalTrials)
}

// Rate returns part/max(total,1) rounded half-up to 4 decimal places.
func Rate(part, total int) float64 {
	if total < 1 {
		total = 1
	}
	return math.Floor(float64(part)/float64(total)*10000+0.5) / 10000
}

// Event is a decoded subscription lifecycle event, independent of its HTTP envelope.
type Event struct {
	Type          string
	AppHint       string
	UserID        string
	ProductID     string
	PeriodType    string
	CancelReason  string
	PurchasedAtMs int64
	Environment   string
}

// Outcome is the overall disposition of a processed event.
type Outcome string

const (
	// OutcomeOK means the event was classified and applied.
	OutcomeOK Outcome = "ok"
	// OutcomeSkipped means the event was acknowledged but caused no writes.
	OutcomeSkipped Outcome = "skipped"
)

// Result reports what processing an event did.
type Result struct {
	Outcome Outcome

	// SkipReason is set when Outcome is OutcomeSkipped.
	SkipReason string

	AppSlug string
	Status  Status

	// Cohort is the updated cohort record, nil when no cohort was touched.
	Cohort *CohortRecord
}
