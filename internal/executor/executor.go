// Package executor applies validated mutations to the record store. Each
// mutation is applied independently and in order; one failure never blocks
// or rolls back its siblings.
package executor

import (
	"fmt"
	"time"

	"scribe/internal/logging"
	"scribe/internal/notion"
	"scribe/internal/types"
)

// RecordStore is the store collaborator the executor drives
type RecordStore interface {
	Create(fields *types.Fields) (string, error)
	Update(recordID string, fields *types.Fields) error
	Archive(recordID string) error
}

// Options tunes retry behavior and error classification
type Options struct {
	Attempts    int                   // total tries per retryable failure (min 1)
	Backoff     time.Duration         // base backoff, doubled per retry
	IsRetryable func(error) bool      // nil: notion.IsRetryable
	IsNotFound  func(error) bool      // nil: notion.IsNotFound
	Sleep       func(d time.Duration) // nil: time.Sleep (tests override)
}

// Executor applies mutations with partial-failure isolation
type Executor struct {
	opts Options
	rs   RecordStore
}

// New creates an executor over the given store
func New(rs RecordStore, opts Options) *Executor {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = notion.IsRetryable
	}
	if opts.IsNotFound == nil {
		opts.IsNotFound = notion.IsNotFound
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Executor{opts: opts, rs: rs}
}

// Apply executes mutations in the order received, one outcome per mutation.
// An archive whose record no longer exists is recorded as skipped rather
// than failed; the upstream decision policy treats it as already satisfied.
func (e *Executor) Apply(mutations []types.Mutation) []types.Outcome {
	outcomes := make([]types.Outcome, 0, len(mutations))
	for _, m := range mutations {
		outcome := e.applyOne(m)
		outcomes = append(outcomes, outcome)

		switch outcome.Status {
		case types.OutcomeSuccess:
			logging.Info("executor", "%s %s ok", m.Op, outcome.RecordID)
		case types.OutcomeSkipped:
			logging.Info("executor", "%s %s skipped: %s", m.Op, m.RecordID, outcome.Reason)
		default:
			logging.Warn("executor", "%s %s failed: %s", m.Op, m.RecordID, outcome.Reason)
		}
	}
	return outcomes
}

func (e *Executor) applyOne(m types.Mutation) types.Outcome {
	var recordID string
	err := e.withRetry(func() error {
		var opErr error
		switch m.Op {
		case types.OpCreate:
			recordID, opErr = e.rs.Create(m.Fields)
		case types.OpUpdate:
			recordID = m.RecordID
			opErr = e.rs.Update(m.RecordID, m.Fields)
		case types.OpArchive:
			recordID = m.RecordID
			opErr = e.rs.Archive(m.RecordID)
		default:
			opErr = fmt.Errorf("unknown mutation op %q", m.Op)
		}
		return opErr
	})

	if err == nil {
		return types.Outcome{Status: types.OutcomeSuccess, RecordID: recordID}
	}
	if m.Op == types.OpArchive && e.opts.IsNotFound(err) {
		return types.Outcome{Status: types.OutcomeSkipped, RecordID: m.RecordID, Reason: "record not found"}
	}
	return types.Outcome{Status: types.OutcomeFailure, RecordID: m.RecordID, Reason: err.Error()}
}

// withRetry retries retryable failures with doubling backoff. Terminal
// failures (validation, not-found) return immediately.
func (e *Executor) withRetry(op func() error) error {
	backoff := e.opts.Backoff
	var err error
	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		err = op()
		if err == nil || !e.opts.IsRetryable(err) {
			return err
		}
		if attempt < e.opts.Attempts {
			logging.Debug("executor", "retryable failure (attempt %d/%d): %v", attempt, e.opts.Attempts, err)
			e.opts.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}
