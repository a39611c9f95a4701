// Package coordinator drives complete runs of the pipeline: fetch new
// messages, resolve them to thoughts, retrieve similar records, decide
// mutations, execute them, and commit the processed cursor. Only one run
// executes at a time; triggers arriving mid-run coalesce into a no-op.
package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/internal/cursor"
	"scribe/internal/index"
	"scribe/internal/journal"
	"scribe/internal/logging"
	"scribe/internal/types"
)

// Phase names the stage a run is currently in
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseResolving  Phase = "resolving"
	PhaseRetrieving Phase = "retrieving"
	PhaseDeciding   Phase = "deciding"
	PhaseExecuting  Phase = "executing"
	PhaseCommitting Phase = "committing"
)

// MessageSource fetches messages with IDs above a cursor position
type MessageSource interface {
	FetchNew(after int64) ([]types.InboundMessage, error)
}

// ThoughtResolver turns messages into consolidated thoughts. The second
// return value lists messages that failed resolution this run.
type ThoughtResolver interface {
	Resolve(msgs []types.InboundMessage) ([]types.Thought, []int64)
}

// RecordCatalog exposes the record store's schema and active records
type RecordCatalog interface {
	Schema() (types.Schema, error)
	ListActive() ([]types.Record, error)
}

// Decider produces validated mutations from thoughts and context
type Decider interface {
	Decide(thoughts []types.Thought, retrieved []types.Record, schema types.Schema, today time.Time) ([]types.Mutation, error)
}

// Applier executes mutations, one outcome per mutation, in order
type Applier interface {
	Apply(mutations []types.Mutation) []types.Outcome
}

// Deps are the collaborators a coordinator composes
type Deps struct {
	Cursor   *cursor.Store
	Source   MessageSource
	Resolver ThoughtResolver
	Catalog  RecordCatalog
	Embedder index.Embedder
	Decider  Decider
	Applier  Applier
	Journal  *journal.Journal
	TopK     int // similar records retrieved per thought
}

// Coordinator serializes runs over shared state
type Coordinator struct {
	deps Deps
	now  func() time.Time

	runMu sync.Mutex // held for the duration of a run

	phaseMu sync.RWMutex
	phase   Phase
}

// New creates a coordinator
func New(deps Deps) *Coordinator {
	if deps.TopK < 1 {
		deps.TopK = 1
	}
	return &Coordinator{
		deps:  deps,
		now:   time.Now,
		phase: PhaseIdle,
	}
}

// Phase reports the current run stage, PhaseIdle when no run is active
func (c *Coordinator) Phase() Phase {
	c.phaseMu.RLock()
	defer c.phaseMu.RUnlock()
	return c.phase
}

func (c *Coordinator) setPhase(p Phase) {
	c.phaseMu.Lock()
	c.phase = p
	c.phaseMu.Unlock()
}

// TryRunOnce starts a run unless one is already in progress, in which case
// the trigger coalesces and false is returned. The in-flight run will pick
// up whatever messages this trigger announced, or the next sweep will.
func (c *Coordinator) TryRunOnce(trigger string) bool {
	if !c.runMu.TryLock() {
		logging.Debug("coordinator", "%s trigger coalesced into run in progress", trigger)
		return false
	}
	defer c.runMu.Unlock()

	if _, err := c.run(trigger); err != nil {
		logging.Warn("coordinator", "%s run failed: %v", trigger, err)
	}
	return true
}

// RunOnce executes a run, waiting for any in-flight run to finish first
func (c *Coordinator) RunOnce(trigger string) (types.RunReport, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.run(trigger)
}

// run executes the pipeline end to end. Caller holds runMu.
//
// Commit rules: a message is marked processed only when every mutation
// derived from it succeeded (or was skipped). Resolution failures and the
// sources of failed mutations stay unmarked so the next run retries them.
// A failed mutation the model did not attribute taints the whole run.
func (c *Coordinator) run(trigger string) (types.RunReport, error) {
	report := types.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: c.now(),
	}
	defer func() {
		report.Duration = c.now().Sub(report.StartedAt).Seconds()
		c.setPhase(PhaseIdle)
		if err := c.deps.Journal.Record(report); err != nil {
			logging.Warn("coordinator", "journal write failed: %v", err)
		}
	}()

	logging.Info("coordinator", "run %s started (trigger: %s)", report.RunID, trigger)

	c.setPhase(PhaseFetching)
	msgs, err := c.deps.Source.FetchNew(c.deps.Cursor.MaxID())
	if err != nil {
		return report, fmt.Errorf("fetch messages: %w", err)
	}

	// Offset-based sources can replay IDs below a sparse cursor; drop
	// anything already committed.
	seen := c.deps.Cursor.Snapshot()
	fresh := make([]types.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		if !seen[m.ID] {
			fresh = append(fresh, m)
		}
	}
	report.Fetched = len(fresh)
	if len(fresh) == 0 {
		logging.Info("coordinator", "run %s: nothing new", report.RunID)
		return report, nil
	}

	c.setPhase(PhaseResolving)
	thoughts, failedResolve := c.deps.Resolver.Resolve(fresh)

	c.setPhase(PhaseRetrieving)
	schema, err := c.deps.Catalog.Schema()
	if err != nil {
		report.Failed = report.Fetched
		return report, fmt.Errorf("fetch schema: %w", err)
	}
	records, err := c.deps.Catalog.ListActive()
	if err != nil {
		report.Failed = report.Fetched
		return report, fmt.Errorf("list records: %w", err)
	}
	retrieved, err := c.retrieve(thoughts, records)
	if err != nil {
		report.Failed = report.Fetched
		return report, fmt.Errorf("retrieve context: %w", err)
	}

	c.setPhase(PhaseDeciding)
	mutations, err := c.deps.Decider.Decide(thoughts, retrieved, schema, c.now())
	if err != nil {
		// Nothing is marked; every message is retried next run.
		report.Failed = report.Fetched
		return report, fmt.Errorf("decide: %w", err)
	}

	c.setPhase(PhaseExecuting)
	outcomes := c.deps.Applier.Apply(mutations)

	c.setPhase(PhaseCommitting)
	processed := make(map[int64]bool, len(fresh))
	for _, m := range fresh {
		processed[m.ID] = true
	}
	for _, id := range failedResolve {
		delete(processed, id)
	}

	tainted := false
	for i, o := range outcomes {
		switch o.Status {
		case types.OutcomeSkipped:
			report.Skipped++
		case types.OutcomeFailure:
			if len(mutations[i].SourceIDs) == 0 {
				tainted = true
				continue
			}
			for _, id := range mutations[i].SourceIDs {
				delete(processed, id)
			}
		}
	}
	if tainted {
		logging.Warn("coordinator", "run %s: unattributed mutation failed, leaving all %d messages unmarked", report.RunID, report.Fetched)
		processed = nil
	}

	ids := make([]int64, 0, len(processed))
	for id := range processed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := c.deps.Cursor.Mark(ids...); err != nil {
		report.Failed = report.Fetched
		return report, fmt.Errorf("commit cursor: %w", err)
	}

	report.Processed = len(ids)
	report.Failed = report.Fetched - report.Processed
	logging.Info("coordinator", "run %s done: fetched=%d processed=%d failed=%d skipped=%d",
		report.RunID, report.Fetched, report.Processed, report.Failed, report.Skipped)
	return report, nil
}

// retrieve builds the per-run similarity index and collects, across all
// thoughts, the nearest records, deduplicated and in first-seen order.
func (c *Coordinator) retrieve(thoughts []types.Thought, records []types.Record) ([]types.Record, error) {
	if len(thoughts) == 0 || len(records) == 0 {
		return nil, nil
	}

	idx, err := index.Build(c.deps.Embedder, records)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	byID := make(map[string]types.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	var retrieved []types.Record
	added := make(map[string]bool)
	for _, t := range thoughts {
		matches, err := idx.Query(t.Text, c.deps.TopK)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if added[m.RecordID] {
				continue
			}
			if r, ok := byID[m.RecordID]; ok {
				added[m.RecordID] = true
				retrieved = append(retrieved, r)
			}
		}
	}
	logging.Debug("coordinator", "retrieved %d records for %d thoughts", len(retrieved), len(thoughts))
	return retrieved, nil
}
