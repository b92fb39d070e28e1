package dispatch

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/config"
	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
)

func TestChunkPIDs(t *testing.T) {
	tests := []struct {
		name string
		pids []string
		size int
		want [][]string
	}{
		{
			name: "even split",
			pids: []string{"a", "b", "c", "d"},
			size: 2,
			want: [][]string{{"a", "b"}, {"c", "d"}},
		},
		{
			name: "remainder group",
			pids: []string{"a", "b", "c", "d", "e"},
			size: 2,
			want: [][]string{{"a", "b"}, {"c", "d"}, {"e"}},
		},
		{
			name: "size larger than input",
			pids: []string{"a", "b"},
			size: 10,
			want: [][]string{{"a", "b"}},
		},
		{
			name: "empty input",
			pids: nil,
			size: 3,
			want: nil,
		},
		{
			name: "invalid size",
			pids: []string{"a"},
			size: 0,
			want: nil,
		},
	}
	for _, tt := range tests {
		got := chunkPIDs(tt.pids, tt.size)
		if len(got) != len(tt.want) {
			t.Fatalf("%s: got %d groups, want %d", tt.name, len(got), len(tt.want))
		}
		for i := range got {
			if len(got[i]) != len(tt.want[i]) {
				t.Fatalf("%s: group %d has %d pids, want %d", tt.name, i, len(got[i]), len(tt.want[i]))
			}
			for j := range got[i] {
				if got[i][j] != tt.want[i][j] {
					t.Fatalf("%s: group %d pid %d = %q, want %q", tt.name, i, j, got[i][j], tt.want[i][j])
				}
			}
		}
	}
}

func TestComputeRetryAtWindow(t *testing.T) {
	settings := &config.Settings{
		RetryDelay:  24 * time.Hour,
		RetryJitter: time.Hour,
	}

	for i := 0; i < 1000; i++ {
		before := time.Now()
		retryAt := computeRetryAt(settings)
		after := time.Now()

		earliest := before.Add(23 * time.Hour)
		latest := after.Add(25 * time.Hour)
		if retryAt.Before(earliest) || retryAt.After(latest) {
			t.Fatalf("retry time %v outside [now+23h, now+25h]", retryAt)
		}
	}
}

func TestComputeRetryAtZeroJitter(t *testing.T) {
	settings := &config.Settings{
		RetryDelay: time.Hour,
		// RetryJitter deliberately zero: must not panic.
	}

	before := time.Now()
	retryAt := computeRetryAt(settings)
	after := time.Now()

	if retryAt.Before(before.Add(time.Hour)) || retryAt.After(after.Add(time.Hour)) {
		t.Fatalf("retry time %v, want now+1h exactly", retryAt)
	}
}

func TestDecideCompletion(t *testing.T) {
	status := 200
	successRecord := &models.ResolutionRecord{StatusCode: &status}

	tests := []struct {
		name    string
		outcome Outcome
		attempt int
		want    completionAction
	}{
		{
			name:    "success finishes the task",
			outcome: Outcome{Kind: outcomeSuccess, PID: "10.1000/182", Record: successRecord},
			attempt: 1,
			want:    actionSucceed,
		},
		{
			name:    "unrecognized scheme is terminal on first attempt",
			outcome: Outcome{Kind: outcomeClassificationFailure, PID: "garbage", Err: errors.New("identifier scheme not recognised")},
			attempt: 1,
			want:    actionFailTerminal,
		},
		{
			name:    "transport failure with budget left schedules a retry",
			outcome: Outcome{Kind: outcomeTransportFailure, PID: "10.1000/182", Err: errors.New("connection refused")},
			attempt: 1,
			want:    actionScheduleRetry,
		},
		{
			name:    "transport failure on the last attempt fails the task",
			outcome: Outcome{Kind: outcomeTransportFailure, PID: "10.1000/182", Err: errors.New("connection refused")},
			attempt: 2,
			want:    actionFailExhausted,
		},
		{
			name:    "success on the retry attempt still finishes",
			outcome: Outcome{Kind: outcomeSuccess, PID: "10.1000/182", Record: successRecord},
			attempt: 2,
			want:    actionSucceed,
		},
	}
	for _, tt := range tests {
		if got := decideCompletion(tt.outcome, tt.attempt, 2); got != tt.want {
			t.Fatalf("%s: decideCompletion = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestStatusText(t *testing.T) {
	status := 301
	if got := StatusText(Outcome{Kind: outcomeSuccess, Record: &models.ResolutionRecord{StatusCode: &status}}); got != "301" {
		t.Fatalf("success status text = %q, want 301", got)
	}
	if got := StatusText(Outcome{Kind: outcomeTransportFailure, Err: errors.New("tls handshake timeout")}); got != "tls handshake timeout" {
		t.Fatalf("failure status text = %q", got)
	}
}

func TestComputeRetryAtSpread(t *testing.T) {
	settings := &config.Settings{
		RetryDelay:  24 * time.Hour,
		RetryJitter: time.Hour,
	}

	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		seen[computeRetryAt(settings).UnixNano()] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected jitter to spread retry times, got %d distinct values", len(seen))
	}
}
