// Package redis provides a Redis implementation of the trialtrack.Storage
// interface. Cohort transitions run as Lua scripts for transaction safety.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// maxBatchSize caps writes per import pipeline.
const maxBatchSize = 450

// Storage implements trialtrack.Storage using Redis
type Storage struct {
	client     redis.UniversalClient
	config     Config
	transition *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "trialtrack:")
	KeyPrefix string

	// UserTTL is the TTL for user record keys (0 = no expiration)
	UserTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "trialtrack:",
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "trialtrack:"
	}

	return &Storage{
		client:     client,
		config:     config,
		transition: transitionScript(),
	}, nil
}

// transitionScript applies one status transition to a cohort hash atomically:
// optional total increment, clamped decrement of the previous bucket,
// increment of the new bucket, rate recompute, index registration.
func transitionScript() *redis.Script {
	return redis.NewScript(`
		local cohortKey = KEYS[1]
		local indexKey = KEYS[2]
		local isNewTrial = ARGV[1]
		local prevBucket = ARGV[2]
		local newBucket = ARGV[3]
		local updatedAt = ARGV[4]
		local date = ARGV[5]

		if isNewTrial == "1" then
			redis.call("HINCRBY", cohortKey, "total_trials", 1)
		end

		if prevBucket ~= "" then
			local v = tonumber(redis.call("HGET", cohortKey, prevBucket) or "0")
			if v > 0 then
				redis.call("HSET", cohortKey, prevBucket, v - 1)
			end
		end

		if newBucket ~= "" then
			redis.call("HINCRBY", cohortKey, newBucket, 1)
		end

		local total = tonumber(redis.call("HGET", cohortKey, "total_trials") or "0")
		local divisor = total
		if divisor < 1 then
			divisor = 1
		end

		local function rate(bucket)
			local v = tonumber(redis.call("HGET", cohortKey, bucket) or "0")
			return math.floor(v / divisor * 10000 + 0.5) / 10000
		end

		redis.call("HSET", cohortKey, "conversion_rate", rate("converted"))
		redis.call("HSET", cohortKey, "cancel_rate", rate("cancelled"))
		redis.call("HSET", cohortKey, "billing_rate", rate("billing_issue"))
		redis.call("HSET", cohortKey, "updated_at", updatedAt)
		redis.call("ZADD", indexKey, 0, date)

		return redis.call("HGETALL", cohortKey)
	`)
}

// GetUser implements trialtrack.Storage
func (s *Storage) GetUser(ctx context.Context, appSlug, userID string) (*trialtrack.UserRecord, error) {
	raw, err := s.client.Get(ctx, s.userKey(appSlug, userID)).Result()
	if err == redis.Nil {
		return nil, trialtrack.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}

	var rec trialtrack.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode user record: %w", err)
	}
	rec.AppSlug = appSlug
	rec.UserID = userID
	return &rec, nil
}

// SetUser implements trialtrack.Storage with read-then-merge-write semantics.
func (s *Storage) SetUser(ctx context.Context, rec *trialtrack.UserRecord) error {
	if rec == nil || rec.AppSlug == "" || rec.UserID == "" {
		return fmt.Errorf("%w: user record needs app and user id", trialtrack.ErrInvalidRecord)
	}

	merged := *rec
	existing, err := s.GetUser(ctx, rec.AppSlug, rec.UserID)
	if err != nil && err != trialtrack.ErrUserNotFound {
		return err
	}
	if existing != nil {
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

	data, err := json.Marshal(&merged)
	if err != nil {
		return fmt.Errorf("failed to encode user record: %w", err)
	}
	if err := s.client.Set(ctx, s.userKey(rec.AppSlug, rec.UserID), data, s.config.UserTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user record: %w", err)
	}
	return nil
}

// GetCohort implements trialtrack.Storage
func (s *Storage) GetCohort(ctx context.Context, appSlug, date string) (*trialtrack.CohortRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.cohortKey(appSlug, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cohort record: %w", err)
	}
	if len(fields) == 0 {
		return nil, trialtrack.ErrCohortNotFound
	}
	return cohortFromFields(appSlug, date, fields), nil
}

// ApplyTransition implements trialtrack.Storage. The Lua script executes
// atomically on the Redis server, serializing concurrent transitions against
// the same cohort key.
func (s *Storage) ApplyTransition(ctx context.Context, t *trialtrack.Transition) (*trialtrack.CohortRecord, error) {
	if t == nil || t.AppSlug == "" || t.Date == "" {
		return nil, fmt.Errorf("%w: transition needs app and date", trialtrack.ErrInvalidRecord)
	}

	isNewTrial := "0"
	if t.IsNewTrial {
		isNewTrial = "1"
	}

	keys := []string{s.cohortKey(t.AppSlug, t.Date), s.indexKey(t.AppSlug)}
	args := []interface{}{
		isNewTrial,
		bucketField(t.Previous),
		bucketField(t.New),
		time.Now().UTC().Format(time.RFC3339Nano),
		t.Date,
	}

	raw, err := s.transition.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("cohort transition failed: %w", err)
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		k, _ := raw[i].(string)
		v, _ := raw[i+1].(string)
		fields[k] = v
	}
	return cohortFromFields(t.AppSlug, t.Date, fields), nil
}

// ImportCohorts implements trialtrack.Storage. Chunks of at most maxBatchSize
// records are written via pipelines, chunks committed concurrently.
func (s *Storage) ImportCohorts(ctx context.Context, appSlug string, records []*trialtrack.CohortRecord) error {
	for _, rec := range records {
		if rec == nil || rec.Date == "" {
			return fmt.Errorf("%w: cohort record needs a date", trialtrack.ErrInvalidRecord)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(records); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		g.Go(func() error {
			_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, rec := range chunk {
					recCopy := *rec
					recCopy.AppSlug = appSlug
					if recCopy.UpdatedAt.IsZero() {
						recCopy.UpdatedAt = time.Now().UTC()
					}
					key := s.cohortKey(appSlug, recCopy.Date)
					// Delete first: last write wins, no merge with existing fields.
					pipe.Del(ctx, key)
					pipe.HSet(ctx, key, cohortToFields(&recCopy))
					pipe.ZAdd(ctx, s.indexKey(appSlug), redis.Z{Score: 0, Member: recCopy.Date})
				}
				return nil
			})
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to import cohorts: %w", err)
	}
	return nil
}

// ListCohorts implements trialtrack.Storage. The per-app index is a sorted set
// with zero scores, so lexicographic range order is date order.
func (s *Storage) ListCohorts(ctx context.Context, appSlug string) ([]*trialtrack.CohortRecord, error) {
	dates, err := s.client.ZRangeByLex(ctx, s.indexKey(appSlug), &redis.ZRangeBy{Min: "-", Max: "+"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cohorts: %w", err)
	}

	records := make([]*trialtrack.CohortRecord, 0, len(dates))
	for _, date := range dates {
		rec, err := s.GetCohort(ctx, appSlug, date)
		if err == trialtrack.ErrCohortNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Storage) userKey(appSlug, userID string) string {
	return fmt.Sprintf("%sapp:%s:user:%s", s.config.KeyPrefix, appSlug, userID)
}

func (s *Storage) cohortKey(appSlug, date string) string {
	return fmt.Sprintf("%sapp:%s:cohort:%s", s.config.KeyPrefix, appSlug, date)
}

func (s *Storage) indexKey(appSlug string) string {
	return fmt.Sprintf("%sapp:%s:cohorts", s.config.KeyPrefix, appSlug)
}

// bucketField maps a known status to its hash field; unknown statuses map to
// no field at all so the script leaves every bucket untouched.
func bucketField(status trialtrack.Status) string {
	if status.Known() {
		return string(status)
	}
	return ""
}

func cohortFromFields(appSlug, date string, fields map[string]string) *trialtrack.CohortRecord {
	rec := &trialtrack.CohortRecord{
		AppSlug:        appSlug,
		Date:           date,
		TotalTrials:    fieldInt(fields, "total_trials"),
		InTrial:        fieldInt(fields, "in_trial"),
		Converted:      fieldInt(fields, "converted"),
		Cancelled:      fieldInt(fields, "cancelled"),
		BillingIssue:   fieldInt(fields, "billing_issue"),
		ConversionRate: fieldFloat(fields, "conversion_rate"),
		CancelRate:     fieldFloat(fields, "cancel_rate"),
		BillingRate:    fieldFloat(fields, "billing_rate"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec
}

func cohortToFields(rec *trialtrack.CohortRecord) map[string]interface{} {
	return map[string]interface{}{
		"total_trials":    rec.TotalTrials,
		"in_trial":        rec.InTrial,
		"converted":       rec.Converted,
		"cancelled":       rec.Cancelled,
		"billing_issue":   rec.BillingIssue,
		"conversion_rate": rec.ConversionRate,
		"cancel_rate":     rec.CancelRate,
		"billing_rate":    rec.BillingRate,
		"updated_at":      rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fieldInt(fields map[string]string, key string) int {
	v, err := strconv.Atoi(fields[key])
	if err != nil {
		return 0
	}
	return v
}

func fieldFloat(fields map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(fields[key], 64)
	if err != nil {
		return 0
	}
	return v
}
