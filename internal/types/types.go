package types

import "time"

// MessageKind distinguishes inbound message payloads
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindVoice MessageKind = "voice"
)

// InboundMessage is one message fetched from the source, immutable once fetched
type InboundMessage struct {
	ID          int64       `json:"id"` // monotonically increasing per source
	Kind        MessageKind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	VoiceFileID string      `json:"voice_file_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Thought is text extracted from one or more messages, plus the IDs it subsumes.
// Transient: exists only within a single run.
type Thought struct {
	Text      string  `json:"text"`
	SourceIDs []int64 `json:"source_ids"`
}

// Record is a structured record in the external store
type Record struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Body     string   `json:"body,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Progress string   `json:"progress,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Deadline string   `json:"deadline,omitempty"` // YYYY-MM-DD
}

// SearchText returns the text a record is indexed under
func (r *Record) SearchText() string {
	if r.Body == "" {
		return r.Title
	}
	return r.Title + "\n" + r.Body
}

// Property describes one field of the record schema
type Property struct {
	Type    string   `json:"type"`              // title, rich_text, select, status, multi_select, date
	Options []string `json:"options,omitempty"` // for select/status/multi_select
}

// Schema maps property name to its description
type Schema map[string]Property

// MutationOp is the closed set of operations the decision engine may emit
type MutationOp string

const (
	OpCreate  MutationOp = "create"
	OpUpdate  MutationOp = "update"
	OpArchive MutationOp = "archive"
)

// Fields is the payload of a create or update mutation. Nil pointers mean
// "leave unset"; Tags nil means unset.
type Fields struct {
	Title    *string  `json:"title,omitempty"`
	Body     *string  `json:"body,omitempty"`
	Priority *string  `json:"priority,omitempty"`
	Progress *string  `json:"progress,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Deadline *string  `json:"deadline,omitempty"`
}

// Empty reports whether no field is set
func (f *Fields) Empty() bool {
	return f == nil || (f.Title == nil && f.Body == nil && f.Priority == nil &&
		f.Progress == nil && f.Tags == nil && f.Deadline == nil)
}

// Mutation is a validated create/update/archive instruction.
// Create never carries a RecordID; Update and Archive always do.
// SourceIDs are the inbound messages this mutation was decided from; empty
// means the model did not attribute it and a failure taints the whole run.
type Mutation struct {
	Op        MutationOp `json:"op"`
	RecordID  string     `json:"record_id,omitempty"`
	Fields    *Fields    `json:"fields,omitempty"`
	SourceIDs []int64    `json:"source_ids,omitempty"`
}

// OutcomeStatus classifies the result of applying one mutation
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the per-mutation result of the reconciliation executor
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	RecordID string        `json:"record_id,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// RunReport summarizes one run of the pipeline
type RunReport struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Duration  float64   `json:"duration_seconds"`
	Fetched   int       `json:"fetched"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}
