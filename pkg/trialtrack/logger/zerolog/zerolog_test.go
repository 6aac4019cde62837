package zerolog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tangentapps/trialtrack/pkg/trialtrack"
)

func TestLogger_Info(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("event applied", trialtrack.Field{Key: "app", Value: "girlwalk"})

	if output.Len() == 0 {
		t.Fatal("Expected info log to be written")
	}
	if !strings.Contains(output.String(), "girlwalk") {
		t.Errorf("Expected field in output, got %s", output.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("debug message")
	logger.Info("info message")

	if output.Len() != 0 {
		t.Error("Expected debug and info to be filtered out")
	}

	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected warn and error to be logged")
	}
}

func TestLogger_MultipleFields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("event applied",
		trialtrack.Field{Key: "app", Value: "girlwalk"},
		trialtrack.Field{Key: "cohort", Value: "2023-11-14"},
		trialtrack.Field{Key: "new_trial", Value: true},
	)

	if output.Len() == 0 {
		t.Error("Expected log with multiple fields to be written")
	}
}
