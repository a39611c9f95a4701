package journal

import (
	"testing"
	"time"

	"scribe/internal/types"
)

func TestJournal_RecordAndLast(t *testing.T) {
	j := New(t.TempDir())

	last, err := j.Last()
	if err != nil {
		t.Fatalf("last on empty journal: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil report, got %+v", last)
	}

	if err := j.Record(types.RunReport{RunID: "run-1", Processed: 2, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(types.RunReport{RunID: "run-2", Failed: 1, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	last, err = j.Last()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.RunID != "run-2" {
		t.Fatalf("expected run-2, got %+v", last)
	}
	if last.Failed != 1 {
		t.Errorf("report fields not preserved: %+v", last)
	}
}
