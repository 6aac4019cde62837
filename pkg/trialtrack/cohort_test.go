package trialtrack

import "testing"

func TestDateKeyFromMillis(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{1700000000000, "2023-11-14"}, // 2023-11-14T22:13:20Z
		{1704067199999, "2023-12-31"}, // one ms before midnight UTC
		{1704067200000, "2024-01-01"}, // midnight UTC
		{0, ""},
		{-5, ""},
	}

	for _, tt := range tests {
		if got := DateKeyFromMillis(tt.ms); got != tt.want {
			t.Errorf("DateKeyFromMillis(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestValidDateKey(t *testing.T) {
	valid := []string{"2024-01-01", "1999-12-31", "2024-02-29"}
	for _, key := range valid {
		if !ValidDateKey(key) {
			t.Errorf("Expected %q to be valid", key)
		}
	}

	invalid := []string{"", "2024-1-1", "01/02/2024", "2024-13-01", "2023-02-29", "20240101", "2024-01-01T00:00:00Z"}
	for _, key := range invalid {
		if ValidDateKey(key) {
			t.Errorf("Expected %q to be invalid", key)
		}
	}
}
