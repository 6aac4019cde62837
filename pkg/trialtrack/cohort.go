package trialtrack

import "time"

const dateKeyLayout = "2006-01-02"

// DateKeyFromMillis converts a purchase timestamp in epoch milliseconds to a
// UTC calendar-date cohort key (YYYY-MM-DD). Zero or negative input means the
// timestamp is absent and yields an empty key.
func DateKeyFromMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.Unix(0, ms*int64(time.Millisecond)).UTC().Format(dateKeyLayout)
}

// ValidDateKey reports whether key is a well-formed cohort date key.
func ValidDateKey(key string) bool {
	if key == "" {
		return false
	}
	_, err := time.Parse(dateKeyLayout, key)
	return err == nil
}
