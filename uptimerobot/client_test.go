package uptimerobot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pidmonitor_backend/models"
)

type fakeStore struct {
	entries  []models.MonitorMappingEntry
	monitors map[string]string
}

func (s *fakeStore) Replace(ctx context.Context, entries []models.MonitorMappingEntry) (int, error) {
	s.entries = entries
	return len(entries), nil
}

func (s *fakeStore) Lookup(ctx context.Context, pidGraphID string) (string, bool, error) {
	id, ok := s.monitors[pidGraphID]
	return id, ok, nil
}

func TestRefreshMappingPaginates(t *testing.T) {
	const total = 60

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostFormValue("api_key"); got != "test-key" {
			t.Errorf("api_key = %q, want test-key", got)
		}
		offset, _ := strconv.Atoi(r.PostFormValue("offset"))
		limit, _ := strconv.Atoi(r.PostFormValue("limit"))
		if limit != 50 {
			t.Errorf("limit = %d, want 50", limit)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"stat":"ok","pagination":{"total":%d,"limit":%d,"offset":%d},"monitors":[`, total, limit, offset)
		for i := 0; i < limit && offset+i < total; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			n := offset + i
			name := fmt.Sprintf("Monitor %d;pid_graph:%04d", n, n)
			if n == 7 {
				// A monitor without a group id in its name must be skipped.
				name = "Unlabeled monitor"
			}
			fmt.Fprintf(w, `{"id":%d,"friendly_name":%q,"url":"https://example.org/%d"}`, 1000+n, name, n)
		}
		fmt.Fprint(w, `]}`)
	}))
	defer server.Close()

	store := &fakeStore{}
	client := NewClientWith(server.URL, "test-key", store)

	count, err := client.RefreshMapping(context.Background())
	if err != nil {
		t.Fatalf("RefreshMapping: %v", err)
	}
	if count != total-1 {
		t.Fatalf("installed %d entries, want %d", count, total-1)
	}

	first := store.entries[0]
	if first.PIDGraphID != "pid_graph:0000" || first.MonitorID != "1000" || first.Label != "Monitor 0" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
}

func TestMeanUptime(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostFormValue("monitors"); got != "11-22-33" {
			t.Errorf("monitors = %q, want 11-22-33", got)
		}
		var startTS, endTS int64
		if _, err := fmt.Sscanf(r.PostFormValue("custom_uptime_ranges"), "%d_%d", &startTS, &endTS); err != nil {
			t.Errorf("custom_uptime_ranges = %q, want start_end timestamps", r.PostFormValue("custom_uptime_ranges"))
		} else if want := time.Unix(endTS, 0).AddDate(-1, 0, 0).Unix(); startTS != want {
			t.Errorf("window start = %d, want calendar one year before end (%d)", startTS, want)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"stat":"ok","pagination":{"total":3,"limit":50,"offset":0},"monitors":[
			{"id":11,"friendly_name":"A;g1","url":"https://a.example","custom_uptime_ranges":"99.900"},
			{"id":22,"friendly_name":"B;g2","url":"https://b.example","custom_uptime_ranges":"100.000"},
			{"id":33,"friendly_name":"C;g3","url":"https://c.example","custom_uptime_ranges":"99.800"}
		]}`)
	}))
	defer server.Close()

	store := &fakeStore{monitors: map[string]string{
		"g1": "11",
		"g2": "22",
		"g3": "33",
	}}
	client := NewClientWith(server.URL, "test-key", store)

	report, err := client.MeanUptime(context.Background(), []string{"g1", "g2", "g3", "missing"})
	if err != nil {
		t.Fatalf("MeanUptime: %v", err)
	}
	if got := report.MeanUptime.String(); got != "99.9" {
		t.Fatalf("mean uptime = %s, want 99.9", got)
	}
	if got := report.DaysDowntime.String(); got != "0.365" {
		t.Fatalf("days downtime = %s, want 0.365", got)
	}
	if len(report.Monitors) != 3 {
		t.Fatalf("got %d monitors, want 3", len(report.Monitors))
	}
	if report.Monitors[0].PIDGraphID != "g1" {
		t.Fatalf("monitor 11 mapped to group %q, want g1", report.Monitors[0].PIDGraphID)
	}
}

func TestMeanUptimeNoMappedGroups(t *testing.T) {
	store := &fakeStore{monitors: map[string]string{}}
	client := NewClientWith("http://unused.invalid", "test-key", store)

	if _, err := client.MeanUptime(context.Background(), []string{"nope"}); err == nil {
		t.Fatal("expected error when no group has a mapped monitor")
	}
}

func TestGetMonitorsAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"stat":"fail","error":{"message":"api_key is wrong"}}`)
	}))
	defer server.Close()

	client := NewClientWith(server.URL, "bad-key", &fakeStore{})
	if _, err := client.RefreshMapping(context.Background()); err == nil {
		t.Fatal("expected error on stat=fail response")
	}
}
