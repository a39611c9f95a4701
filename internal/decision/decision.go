// Package decision turns consolidated thoughts plus retrieved context into a
// validated list of mutations. The model's output is parsed strictly: any
// element that doesn't fit the closed create/update/archive shape rejects
// the whole batch, so a garbled response never half-applies.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"scribe/internal/logging"
	"scribe/internal/types"
)

// ErrInvalidResponse marks a model response that failed parsing or
// validation. The coordinator aborts mutation execution for the run and
// leaves all messages unmarked for retry.
var ErrInvalidResponse = errors.New("invalid model response")

// Completer is the language-model collaborator
type Completer interface {
	Complete(prompt string) (string, error)
}

// Engine assembles prompts and validates model output
type Engine struct {
	llm Completer
}

// New creates a decision engine
func New(llm Completer) *Engine {
	return &Engine{llm: llm}
}

// maxContextChars bounds the retrieved-records section of the prompt
const maxContextChars = 8000

// Decide sends the thoughts and retrieved records to the model and parses
// the response into mutations. Returns ErrInvalidResponse (wrapped) if any
// element of the response is malformed; no mutations are returned then.
func (e *Engine) Decide(thoughts []types.Thought, retrieved []types.Record, schema types.Schema, today time.Time) ([]types.Mutation, error) {
	if len(thoughts) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(thoughts, retrieved, schema, today)
	logging.Debug("decision", "prompt (%d chars): %s", len(prompt), logging.Truncate(prompt, 200))

	raw, err := e.llm.Complete(prompt)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	mutations, err := ParseMutations(raw, schema, thoughts)
	if err != nil {
		// Log the raw response so a bad batch can be diagnosed
		logging.Warn("decision", "rejecting model response: %v", err)
		logging.Info("decision", "raw response: %s", logging.Truncate(raw, 2000))
		return nil, err
	}

	logging.Info("decision", "model returned %d validated mutations", len(mutations))
	return mutations, nil
}

func buildPrompt(thoughts []types.Thought, retrieved []types.Record, schema types.Schema, today time.Time) string {
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")

	var sb strings.Builder
	sb.WriteString("You maintain a personal notes database. Given new thoughts and existing records,\n")
	sb.WriteString("reply with ONLY a JSON array of actions. Each action is one of:\n")
	sb.WriteString(`  {"action":"create","data":{...fields...}}` + "\n")
	sb.WriteString(`  {"action":"update","record_id":"...","data":{...fields...}}` + "\n")
	sb.WriteString(`  {"action":"archive","record_id":"..."}` + "\n")
	sb.WriteString("Include \"thought\": <0-based index of the NEW THOUGHT the action derives from>.\n")
	sb.WriteString("Field keys: title, description, priority, progress, tags, deadline (YYYY-MM-DD).\n")
	sb.WriteString("Enumerated fields must use one of the schema's declared options.\n")
	sb.WriteString("Only reference record_ids listed under EXISTING RECORDS.\n\n")

	sb.WriteString("SCHEMA:\n")
	sb.Write(schemaJSON)
	sb.WriteString("\n\nTODAY: " + today.Format("2006-01-02") + "\n\n")

	sb.WriteString("EXISTING RECORDS:\n")
	contextLen := 0
	for _, r := range retrieved {
		entry := fmt.Sprintf("ID: %s\n%s\n\n", r.ID, r.SearchText())
		if contextLen+len(entry) > maxContextChars {
			break
		}
		sb.WriteString(entry)
		contextLen += len(entry)
	}
	if len(retrieved) == 0 {
		sb.WriteString("(none)\n\n")
	}

	sb.WriteString("NEW THOUGHTS:\n")
	for _, t := range thoughts {
		sb.WriteString(t.Text)
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

// rawAction is the wire shape the model emits. Thought is the 0-based index
// of the thought the action derives from, used to attribute mutation
// failures back to source messages.
type rawAction struct {
	Action   string     `json:"action"`
	RecordID string     `json:"record_id,omitempty"`
	PageID   string     `json:"page_id,omitempty"` // accepted alias
	Data     *rawFields `json:"data,omitempty"`
	Thought  *int       `json:"thought,omitempty"`
}

type rawFields struct {
	Title    *string  `json:"title,omitempty"`
	Body     *string  `json:"description,omitempty"`
	Priority *string  `json:"priority,omitempty"`
	Progress *string  `json:"progress,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Deadline *string  `json:"deadline,omitempty"`
}

func (r *rawAction) recordID() string {
	if r.RecordID != "" {
		return r.RecordID
	}
	return r.PageID
}

var fenceRe = regexp.MustCompile("^```[a-zA-Z]*\\s*")

// stripFences removes markdown code fences around a JSON payload
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = fenceRe.ReplaceAllString(s, "")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseMutations parses a model response strictly into mutations. Every
// element must conform; one bad element rejects the whole batch. thoughts
// (may be nil) resolves each action's thought index to source message IDs.
func ParseMutations(raw string, schema types.Schema, thoughts []types.Thought) ([]types.Mutation, error) {
	cleaned := stripFences(raw)

	var actions []rawAction
	if err := json.Unmarshal([]byte(cleaned), &actions); err != nil {
		return nil, fmt.Errorf("%w: not a JSON array: %v", ErrInvalidResponse, err)
	}

	mutations := make([]types.Mutation, 0, len(actions))
	for i, a := range actions {
		m, err := validateAction(a, schema)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrInvalidResponse, i, err)
		}
		if a.Thought != nil && *a.Thought >= 0 && *a.Thought < len(thoughts) {
			m.SourceIDs = thoughts[*a.Thought].SourceIDs
		}
		mutations = append(mutations, m)
	}
	return mutations, nil
}

func validateAction(a rawAction, schema types.Schema) (types.Mutation, error) {
	var m types.Mutation

	switch types.MutationOp(a.Action) {
	case types.OpCreate:
		if a.recordID() != "" {
			return m, fmt.Errorf("create must not carry a record_id")
		}
		if a.Data == nil {
			return m, fmt.Errorf("create requires a data payload")
		}
	case types.OpUpdate:
		if a.recordID() == "" {
			return m, fmt.Errorf("update requires a record_id")
		}
		if a.Data == nil {
			return m, fmt.Errorf("update requires a data payload")
		}
	case types.OpArchive:
		if a.recordID() == "" {
			return m, fmt.Errorf("archive requires a record_id")
		}
		if a.Data != nil {
			return m, fmt.Errorf("archive must not carry a data payload")
		}
	default:
		return m, fmt.Errorf("unknown action %q", a.Action)
	}

	m.Op = types.MutationOp(a.Action)
	m.RecordID = a.recordID()

	if a.Data != nil {
		fields, err := validateFields(a.Data, schema)
		if err != nil {
			return m, err
		}
		if fields.Empty() {
			return m, fmt.Errorf("%s data payload has no recognized fields", a.Action)
		}
		m.Fields = fields
	}
	return m, nil
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// fieldSchema maps mutation field keys to schema property names
var fieldSchema = map[string]string{
	"priority": "priority",
	"progress": "progress",
	"tags":     "tags",
}

func validateFields(f *rawFields, schema types.Schema) (*types.Fields, error) {
	out := &types.Fields{
		Title:    f.Title,
		Body:     f.Body,
		Priority: f.Priority,
		Progress: f.Progress,
		Tags:     f.Tags,
		Deadline: f.Deadline,
	}

	if f.Priority != nil {
		if err := checkOption(schema, fieldSchema["priority"], *f.Priority); err != nil {
			return nil, err
		}
	}
	if f.Progress != nil {
		if err := checkOption(schema, fieldSchema["progress"], *f.Progress); err != nil {
			return nil, err
		}
	}
	for _, tag := range f.Tags {
		if err := checkOption(schema, fieldSchema["tags"], tag); err != nil {
			return nil, err
		}
	}
	if f.Deadline != nil && !datePattern.MatchString(*f.Deadline) {
		return nil, fmt.Errorf("deadline %q is not YYYY-MM-DD", *f.Deadline)
	}
	return out, nil
}

// checkOption verifies a value against a schema property's declared options.
// A property absent from the schema, or with no declared options, accepts
// any value.
func checkOption(schema types.Schema, property, value string) error {
	prop, ok := schema[property]
	if !ok || len(prop.Options) == 0 {
		return nil
	}
	for _, opt := range prop.Options {
		if opt == value {
			return nil
		}
	}
	return fmt.Errorf("%s value %q not in schema options %v", property, value, prop.Options)
}
