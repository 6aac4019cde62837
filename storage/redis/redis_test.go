package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// setupTestRedis creates a Redis client for testing.
// Requires Redis running on localhost:6379; skipped otherwise.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func TestNew(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil client")
	}
}

func TestApplyTransition_Script(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	rec, err := storage.ApplyTransition(ctx, &trialtrack.Transition{
		AppSlug: "girlwalk", Date: "2023-11-14",
		IsNewTrial: true, New: trialtrack.StatusInTrial,
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}
	if rec.TotalTrials != 1 || rec.InTrial != 1 {
		t.Errorf("Expected total=1 in_trial=1, got %d %d", rec.TotalTrials, rec.InTrial)
	}

	rec, err = storage.ApplyTransition(ctx, &trialtrack.Transition{
		AppSlug: "girlwalk", Date: "2023-11-14",
		Previous: trialtrack.StatusInTrial, New: trialtrack.StatusConverted,
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}
	if rec.InTrial != 0 || rec.Converted != 1 {
		t.Errorf("Expected in_trial=0 converted=1, got %d %d", rec.InTrial, rec.Converted)
	}
	if rec.ConversionRate != 1.0 {
		t.Errorf("Expected conversion_rate=1.0, got %v", rec.ConversionRate)
	}
}

func TestApplyTransition_DecrementClampsAtZero(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	// Previous status claims cancelled but the bucket is empty; it must not
	// go negative.
	rec, err := storage.ApplyTransition(ctx, &trialtrack.Transition{
		AppSlug: "girlwalk", Date: "2023-11-14",
		Previous: trialtrack.StatusCancelled, New: trialtrack.StatusConverted,
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}
	if rec.Cancelled != 0 {
		t.Errorf("Expected cancelled clamped at 0, got %d", rec.Cancelled)
	}
	if rec.Converted != 1 {
		t.Errorf("Expected converted=1, got %d", rec.Converted)
	}
}

func TestApplyTransition_ConcurrentSameCohort(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.ApplyTransition(ctx, &trialtrack.Transition{
				AppSlug: "girlwalk", Date: "2023-11-14",
				IsNewTrial: true, New: trialtrack.StatusInTrial,
			})
			if err != nil {
				t.Errorf("ApplyTransition failed: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := storage.GetCohort(ctx, "girlwalk", "2023-11-14")
	if err != nil {
		t.Fatalf("GetCohort failed: %v", err)
	}
	if rec.TotalTrials != users || rec.InTrial != users {
		t.Errorf("Lost update: expected %d/%d, got total=%d in_trial=%d",
			users, users, rec.TotalTrials, rec.InTrial)
	}
}

func TestSetUser_Merge(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	if _, err := storage.GetUser(ctx, "girlwalk", "u1"); err != trialtrack.ErrUserNotFound {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	err = storage.SetUser(ctx, &trialtrack.UserRecord{
		AppSlug: "girlwalk", UserID: "u1",
		Status:         trialtrack.StatusInTrial,
		TrialStartDate: "2023-11-14",
	})
	if err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}

	err = storage.SetUser(ctx, &trialtrack.UserRecord{
		AppSlug: "girlwalk", UserID: "u1",
		Status: trialtrack.StatusConverted,
	})
	if err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}

	rec, err := storage.GetUser(ctx, "girlwalk", "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if rec.Status != trialtrack.StatusConverted || rec.TrialStartDate != "2023-11-14" {
		t.Errorf("Merge lost fields: %+v", rec)
	}
}

func TestImportAndList(t *testing.T) {
	client := setupTestRedis(t)
	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	err = storage.ImportCohorts(ctx, "girlwalk", []*trialtrack.CohortRecord{
		{Date: "2023-11-15", TotalTrials: 20},
		{Date: "2023-11-14", TotalTrials: 10, Converted: 4, ConversionRate: 0.4},
	})
	if err != nil {
		t.Fatalf("ImportCohorts failed: %v", err)
	}

	records, err := storage.ListCohorts(ctx, "girlwalk")
	if err != nil {
		t.Fatalf("ListCohorts failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 cohorts, got %d", len(records))
	}
	if records[0].Date != "2023-11-14" || records[1].Date != "2023-11-15" {
		t.Errorf("Cohorts out of order: %s, %s", records[0].Date, records[1].Date)
	}
	if records[0].ConversionRate != 0.4 {
		t.Errorf("Expected conversion_rate=0.4, got %v", records[0].ConversionRate)
	}
}
