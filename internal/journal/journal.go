// Package journal keeps an append-only history of run reports in
// state/runs.jsonl for inspection and the health endpoint.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"scribe/internal/types"
)

// Journal writes run reports to disk
type Journal struct {
	path string
	mu   sync.Mutex
}

// New creates a journal under the given state directory
func New(statePath string) *Journal {
	return &Journal{
		path: filepath.Join(statePath, "runs.jsonl"),
	}
}

// Record appends one run report as a JSON line
func (j *Journal) Record(report types.RunReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Last returns the most recent run report, or nil if none recorded
func (j *Journal) Last() (*types.RunReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last *types.RunReport
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var report types.RunReport
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue // skip torn/malformed lines
		}
		last = &report
	}
	return last, scanner.Err()
}
