package trialtrack

import "testing"

func TestCohortRecord_Apply(t *testing.T) {
	t.Run("new trial", func(t *testing.T) {
		rec := &CohortRecord{Date: "2024-01-01"}
		rec.Apply(Transition{IsNewTrial: true, Previous: StatusNone, New: StatusInTrial})

		if rec.TotalTrials != 1 || rec.InTrial != 1 {
			t.Errorf("Unexpected counts: %+v", rec)
		}
	})

	t.Run("conversion moves bucket without touching total", func(t *testing.T) {
		rec := &CohortRecord{Date: "2024-01-01", TotalTrials: 1, InTrial: 1}
		rec.Apply(Transition{Previous: StatusInTrial, New: StatusConverted})

		if rec.TotalTrials != 1 {
			t.Errorf("Expected total unchanged, got %d", rec.TotalTrials)
		}
		if rec.InTrial != 0 || rec.Converted != 1 {
			t.Errorf("Unexpected buckets: %+v", rec)
		}
		if rec.ConversionRate != 1.0 {
			t.Errorf("Expected conversion rate 1.0, got %v", rec.ConversionRate)
		}
	})

	t.Run("decrement clamps at zero", func(t *testing.T) {
		rec := &CohortRecord{Date: "2024-01-01", TotalTrials: 2}
		rec.Apply(Transition{Previous: StatusInTrial, New: StatusCancelled})

		if rec.InTrial != 0 {
			t.Errorf("Expected in_trial clamped at 0, got %d", rec.InTrial)
		}
		if rec.Cancelled != 1 {
			t.Errorf("Expected cancelled 1, got %d", rec.Cancelled)
		}
	})

	t.Run("repeated identical transition is net zero after the first", func(t *testing.T) {
		rec := &CohortRecord{Date: "2024-01-01", TotalTrials: 3, InTrial: 2, Converted: 1}
		tr := Transition{Previous: StatusInTrial, New: StatusConverted}

		rec.Apply(tr)
		if rec.InTrial != 1 || rec.Converted != 2 {
			t.Fatalf("After first apply: %+v", rec)
		}

		// A retried delivery repeats Previous=Converted, New=Converted.
		retry := Transition{Previous: StatusConverted, New: StatusConverted}
		rec.Apply(retry)
		if rec.InTrial != 1 || rec.Converted != 2 || rec.TotalTrials != 3 {
			t.Errorf("Retry changed counts: %+v", rec)
		}
	})

	t.Run("unknown previous status decrements nothing", func(t *testing.T) {
		rec := &CohortRecord{Date: "2024-01-01", TotalTrials: 1, InTrial: 1}
		rec.Apply(Transition{Previous: StatusNone, New: StatusConverted})

		if rec.InTrial != 1 || rec.Converted != 1 {
			t.Errorf("Unexpected buckets: %+v", rec)
		}
	})

	t.Run("rates derive from totals", func(t *testing.T) {
		rec := &CohortRecord{Date: "2024-01-01", TotalTrials: 3, InTrial: 2, Converted: 1}
		rec.Apply(Transition{Previous: StatusInTrial, New: StatusCancelled})

		// 1/3, 1/3 rounded half-up to 4 decimals
		if rec.ConversionRate != 0.3333 {
			t.Errorf("Expected conversion rate 0.3333, got %v", rec.ConversionRate)
		}
		if rec.CancelRate != 0.3333 {
			t.Errorf("Expected cancel rate 0.3333, got %v", rec.CancelRate)
		}
		if rec.BillingRate != 0 {
			t.Errorf("Expected billing rate 0, got %v", rec.BillingRate)
		}
	})
}

func TestRate(t *testing.T) {
	tests := []struct {
		part  int
		total int
		want  float64
	}{
		{0, 0, 0},
		{1, 0, 1},     // zero total is treated as one
		{1, 2, 0.5},
		{1, 3, 0.3333},
		{2, 3, 0.6667}, // rounds half-up on the 5th decimal
		{1, 8, 0.125},
		{1, 16, 0.0625},
		{3, 4, 0.75},
		{7, 7, 1},
	}

	for _, tt := range tests {
		if got := Rate(tt.part, tt.total); got != tt.want {
			t.Errorf("Rate(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.want)
		}
	}
}
