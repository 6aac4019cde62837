package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

// ParseEvent decodes a webhook payload into an Event. Providers wrap
// the event in an "event" envelope, but some test fixtures send the
// fields at the top level, so both shapes are accepted. Optional
// fields that are absent or carry the wrong JSON type default to
// their zero value; only malformed JSON is an error.
func ParseEvent(body []byte) (*trialtrack.Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}

	fields := payload
	if inner, ok := payload["event"].(map[string]interface{}); ok {
		fields = inner
	}

	userID := getString(fields, "app_user_id")
	if userID == "" {
		userID = getString(fields, "original_app_user_id")
	}

	return &trialtrack.Event{
		Type:          getString(fields, "type"),
		AppHint:       getString(fields, "app_id"),
		UserID:        userID,
		ProductID:     getString(fields, "product_id"),
		PeriodType:    getString(fields, "period_type"),
		CancelReason:  getString(fields, "cancel_reason"),
		PurchasedAtMs: getInt64(fields, "purchased_at_ms"),
		Environment:   getString(fields, "environment"),
	}, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
