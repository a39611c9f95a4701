package index

import (
	"fmt"
	"testing"

	"scribe/internal/types"
)

// fakeEmbedder maps known texts to fixed vectors so tests are hermetic.
// Unknown text falls back to a character-histogram vector (deterministic).
type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Embed(text string) ([]float64, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	v := make([]float64, 8)
	for _, r := range text {
		v[int(r)%8]++
	}
	return v, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(string) ([]float64, error) {
	return nil, fmt.Errorf("embedder down")
}

func TestBuild_EmptySnapshot(t *testing.T) {
	idx, err := Build(&fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer idx.Close()

	if idx.Len() != 0 {
		t.Errorf("expected empty index, got %d entries", idx.Len())
	}

	matches, err := idx.Query("anything", 5)
	if err != nil {
		t.Fatalf("query on empty index errored: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestQuery_OrdersByCosineSimilarity(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"groceries":        {1, 0, 0},
		"buy milk\nget milk at the store": {0.9, 0.1, 0},
		"fix the roof":     {0, 1, 0},
		"tax return":       {0, 0, 1},
	}}

	records := []types.Record{
		{ID: "rec-milk", Title: "buy milk", Body: "get milk at the store"},
		{ID: "rec-roof", Title: "fix the roof"},
		{ID: "rec-tax", Title: "tax return"},
	}

	idx, err := Build(emb, records)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer idx.Close()

	matches, err := idx.Query("groceries", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].RecordID != "rec-milk" {
		t.Errorf("expected rec-milk first, got %s", matches[0].RecordID)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("matches not ordered best-first: %v", matches)
	}
}

func TestQuery_KLargerThanIndex(t *testing.T) {
	emb := &fakeEmbedder{}
	idx, err := Build(emb, []types.Record{{ID: "only", Title: "solo note"}})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	matches, err := idx.Query("solo note", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].RecordID != "only" {
		t.Errorf("unexpected match %v", matches[0])
	}
}

func TestBuild_Deterministic(t *testing.T) {
	records := []types.Record{
		{ID: "a", Title: "water the plants"},
		{ID: "b", Title: "call the dentist"},
		{ID: "c", Title: "renew passport"},
	}

	query := func() []Match {
		idx, err := Build(&fakeEmbedder{}, records)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		defer idx.Close()
		matches, err := idx.Query("dentist appointment", 3)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		return matches
	}

	first := query()
	second := query()

	if len(first) != len(second) {
		t.Fatalf("result lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].RecordID != second[i].RecordID {
			t.Errorf("position %d differs: %s vs %s", i, first[i].RecordID, second[i].RecordID)
		}
		if first[i].Score != second[i].Score {
			t.Errorf("score at %d differs: %v vs %v", i, first[i].Score, second[i].Score)
		}
	}
}

func TestBuild_EmbedderFailure(t *testing.T) {
	_, err := Build(failingEmbedder{}, []types.Record{{ID: "x", Title: "note"}})
	if err == nil {
		t.Fatal("expected build error when embedder fails")
	}
}

func TestQuery_SkipsRecordsWithNoText(t *testing.T) {
	idx, err := Build(&fakeEmbedder{}, []types.Record{{ID: "empty"}, {ID: "real", Title: "laundry"}})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if idx.Len() != 1 {
		t.Errorf("expected 1 indexed record, got %d", idx.Len())
	}
}
