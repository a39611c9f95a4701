// Package index builds a per-run similarity index over the current record
// snapshot. Vectors live in an in-memory SQLite database with the vec0
// virtual table for KNN when sqlite-vec is available, with an O(n) cosine
// scan fallback otherwise. The index is rebuilt from scratch every run so
// external edits to the record store are never stale here.
package index

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"scribe/internal/logging"
	"scribe/internal/types"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// Embedder turns text into a vector. Must be deterministic: identical text
// yields identical vectors.
type Embedder interface {
	Embed(text string) ([]float64, error)
}

// Match is one similarity query result
type Match struct {
	RecordID string
	Score    float64 // cosine similarity, higher is closer
}

type entry struct {
	recordID  string
	embedding []float64
}

// Index holds the vectors for one run's record snapshot
type Index struct {
	mu       sync.RWMutex
	embedder Embedder
	entries  []entry // rowid in the vec table is position+1

	db     *sql.DB // nil when vec0 unavailable
	vecDim int
}

// Build embeds each record's searchable text and assembles the index.
// An empty snapshot yields an empty index; Query on it returns nothing.
func Build(embedder Embedder, records []types.Record) (*Index, error) {
	idx := &Index{embedder: embedder}

	for _, r := range records {
		text := r.SearchText()
		if text == "" {
			continue
		}
		emb, err := embedder.Embed(text)
		if err != nil {
			return nil, fmt.Errorf("embed record %s: %w", r.ID, err)
		}
		idx.entries = append(idx.entries, entry{recordID: r.ID, embedding: emb})
	}

	if len(idx.entries) > 0 {
		if err := idx.initVecTable(); err != nil {
			logging.Debug("index", "sqlite-vec unavailable, using full scan: %v", err)
		}
	}
	return idx, nil
}

// initVecTable creates an in-memory vec0 table and loads all entries.
// Vectors are unit-normalized before storage so L2 distance orders the same
// as cosine distance.
func (idx *Index) initVecTable() error {
	dim := len(idx.entries[0].embedding)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return fmt.Errorf("open in-memory db: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE record_vec USING vec0(
			embedding float[%d]
		)
	`, dim)); err != nil {
		db.Close()
		return fmt.Errorf("create record_vec(float[%d]): %w", dim, err)
	}

	for i, e := range idx.entries {
		if len(e.embedding) != dim {
			db.Close()
			return fmt.Errorf("embedding dim %d for %s doesn't match %d", len(e.embedding), e.recordID, dim)
		}
		serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(e.embedding))
		if err != nil {
			db.Close()
			return fmt.Errorf("serialize vector for %s: %w", e.recordID, err)
		}
		if _, err := db.Exec(`INSERT INTO record_vec(rowid, embedding) VALUES (?, ?)`, i+1, serialized); err != nil {
			db.Close()
			return fmt.Errorf("insert vector for %s: %w", e.recordID, err)
		}
	}

	idx.db = db
	idx.vecDim = dim
	return nil
}

// Len returns the number of indexed records
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Query returns the k nearest records to the given text, best first.
// An empty index returns nil, never an error.
func (idx *Index) Query(text string, k int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.entries) == 0 || k <= 0 {
		return nil, nil
	}

	queryEmb, err := idx.embedder.Embed(text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if idx.db != nil && len(queryEmb) == idx.vecDim {
		matches, err := idx.queryVec(queryEmb, k)
		if err == nil {
			return matches, nil
		}
		logging.Debug("index", "vec query failed, falling back to scan: %v", err)
	}
	return idx.queryScan(queryEmb, k), nil
}

// queryVec runs a KNN query against the vec0 table
func (idx *Index) queryVec(queryEmb []float64, k int) ([]Match, error) {
	serialized, err := sqlite_vec.SerializeFloat32(normalizeFloat32(queryEmb))
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	rows, err := idx.db.Query(`
		SELECT rowid, distance FROM record_vec
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serialized, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var rowid int64
		var dist float64
		if err := rows.Scan(&rowid, &dist); err != nil {
			return nil, err
		}
		if rowid < 1 || rowid > int64(len(idx.entries)) {
			continue
		}
		matches = append(matches, Match{
			RecordID: idx.entries[rowid-1].recordID,
			Score:    l2ToCosineSim(dist),
		})
	}
	return matches, rows.Err()
}

// queryScan is the O(n) cosine fallback
func (idx *Index) queryScan(queryEmb []float64, k int) []Match {
	scored := make([]Match, 0, len(idx.entries))
	for _, e := range idx.entries {
		scored = append(scored, Match{
			RecordID: e.recordID,
			Score:    cosineSimilarity(queryEmb, e.embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Close releases the in-memory vec database, if any
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.db != nil {
		err := idx.db.Close()
		idx.db = nil
		return err
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// normalizeFloat32 returns a unit-length float32 copy of the vector.
// Unit vectors make L2 distance order identically to cosine distance.
func normalizeFloat32(v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, len(v))
	if norm == 0 {
		for i, x := range v {
			out[i] = float32(x)
		}
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// l2ToCosineSim converts an L2 distance on normalized vectors to cosine
// similarity: cosine_sim = 1 - L2²/2
func l2ToCosineSim(l2dist float64) float64 {
	return 1.0 - (l2dist*l2dist)/2.0
}
