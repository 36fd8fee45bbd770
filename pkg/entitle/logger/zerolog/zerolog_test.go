package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pantryplan/entitle/pkg/entitle"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf))

	logger.Info("usage recorded",
		entitle.Field{Key: "user_id", Value: "user1"},
		entitle.Field{Key: "amount", Value: 3},
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["message"] != "usage recorded" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["user_id"] != "user1" {
		t.Errorf("user_id = %v", entry["user_id"])
	}
	if entry["amount"] != float64(3) {
		t.Errorf("amount = %v", entry["amount"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug leaked through warn level: %s", buf.String())
	}

	logger.Error("visible")
	if buf.Len() == 0 {
		t.Error("error entry missing")
	}
}
