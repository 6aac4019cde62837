package api

import "github.com/tangentapps/trialtrack/pkg/trialtrack"

// CohortReport is the response for the cohort listing endpoint
type CohortReport struct {
	App     string                     `json:"app"`
	Cohorts []*trialtrack.CohortRecord `json:"cohorts"`
	Totals  ReportTotals               `json:"totals"`
}

// ReportTotals aggregates all cohorts of an app into one row
type ReportTotals struct {
	TotalTrials    int     `json:"total_trials"`
	InTrial        int     `json:"in_trial"`
	Converted      int     `json:"converted"`
	Cancelled      int     `json:"cancelled"`
	BillingIssue   int     `json:"billing_issue"`
	ConversionRate float64 `json:"conversion_rate"`
	CancelRate     float64 `json:"cancel_rate"`
	BillingRate    float64 `json:"billing_rate"`
}

// UserResponse is the response for the user lookup endpoint
type UserResponse struct {
	App  string                 `json:"app"`
	User *trialtrack.UserRecord `json:"user"`
}
