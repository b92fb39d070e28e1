package models

import (
	"context"
	"testing"
	"time"
)

func TestSaveResolutionRecordRejectsInvalidOutcome(t *testing.T) {
	status := 200
	httpError := "connection refused"

	// The guard fires before any database access, so an invalid record must
	// be rejected regardless of connection state.
	tests := []struct {
		name   string
		record *ResolutionRecord
	}{
		{
			name: "both status and error set",
			record: &ResolutionRecord{
				TimeStamp:  time.Now().UTC(),
				PID:        "10.1000/182",
				PIDURL:     "http://doi.org/10.1000/182",
				StatusCode: &status,
				HTTPError:  &httpError,
			},
		},
		{
			name: "neither status nor error set",
			record: &ResolutionRecord{
				TimeStamp: time.Now().UTC(),
				PID:       "10.1000/182",
				PIDURL:    "http://doi.org/10.1000/182",
			},
		},
	}
	for _, tt := range tests {
		if err := SaveResolutionRecord(context.Background(), tt.record); err == nil {
			t.Fatalf("%s: expected rejection", tt.name)
		}
	}
}

func TestRecordConstructorsSatisfyInvariant(t *testing.T) {
	success := NewSuccessRecord("10.1000/182", "http://doi.org/10.1000/182", 200, "text/html", true, 1, "https://example.org/landing")
	if success.StatusCode == nil || success.HTTPError != nil {
		t.Fatal("success record must carry status_code and no http_error")
	}

	failure := NewFailureRecord("10.1000/182", "http://doi.org/10.1000/182", "connection refused")
	if failure.HTTPError == nil || failure.StatusCode != nil {
		t.Fatal("failure record must carry http_error and no status_code")
	}
	if failure.RedirectCount != nil || failure.ResolutionURL != nil {
		t.Fatal("failure record must not carry redirect count or resolution url")
	}
}
