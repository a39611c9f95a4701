package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/cursor"
	"scribe/internal/journal"
	"scribe/internal/types"
)

type fakeRunner struct {
	calls atomic.Int64
}

func (f *fakeRunner) TryRunOnce(trigger string) bool {
	f.calls.Add(1)
	return true
}

func newTestServer(t *testing.T) (*Server, *fakeRunner, *cursor.Store, *journal.Journal) {
	t.Helper()
	dir := t.TempDir()

	cur := cursor.New(filepath.Join(dir, "cursor.json"))
	if err := cur.Load(); err != nil {
		t.Fatal(err)
	}
	jrnl := journal.New(dir)
	runner := &fakeRunner{}
	return New("0", runner, cur, jrnl), runner, cur, jrnl
}

func TestNotify_SchedulesRun(t *testing.T) {
	s, runner, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/notify", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", resp.StatusCode)
	}

	// The run happens in a goroutine; poll for it.
	deadline := time.After(2 * time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("runner never triggered")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNotify_RejectsNonPost(t *testing.T) {
	s, runner, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/notify")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
	time.Sleep(10 * time.Millisecond)
	if runner.calls.Load() != 0 {
		t.Error("GET /notify triggered a run")
	}
}

func TestHealth_ReportsCursorAndLastRun(t *testing.T) {
	s, _, cur, jrnl := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if err := cur.Mark(1, 2, 3); err != nil {
		t.Fatal(err)
	}
	if err := jrnl.Record(types.RunReport{RunID: "run-7", Processed: 3, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Processed != 3 {
		t.Errorf("health: %+v", health)
	}
	if health.LastRun == nil || health.LastRun.RunID != "run-7" {
		t.Errorf("last run: %+v", health.LastRun)
	}
}

func TestHealth_EmptyState(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Processed != 0 || health.LastRun != nil {
		t.Errorf("health on empty state: %+v", health)
	}
}
