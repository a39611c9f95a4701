package notion

import (
	"encoding/json"
	"strings"

	"scribe/internal/types"
)

// Database property names. The decision engine validates against the schema
// fetched at run time; these are the canonical columns of the notes database.
const (
	propTitle    = "Name"
	propBody     = "description"
	propPriority = "priority"
	propProgress = "progress"
	propTags     = "tags"
	propDeadline = "deadline"
)

// page is a Notion page with the property shapes we read
type page struct {
	ID         string                     `json:"id"`
	Archived   bool                       `json:"archived"`
	Properties map[string]json.RawMessage `json:"properties"`
}

type textPart struct {
	Text struct {
		Content string `json:"content"`
	} `json:"text"`
	PlainText string `json:"plain_text,omitempty"`
}

type namedOption struct {
	Name string `json:"name"`
}

// toRecord flattens a page's properties into a Record
func (p *page) toRecord() types.Record {
	rec := types.Record{ID: p.ID}

	for name, raw := range p.Properties {
		switch strings.ToLower(name) {
		case strings.ToLower(propTitle):
			var v struct {
				Title []textPart `json:"title"`
			}
			if json.Unmarshal(raw, &v) == nil {
				rec.Title = joinParts(v.Title)
			}
		case propBody:
			var v struct {
				RichText []textPart `json:"rich_text"`
			}
			if json.Unmarshal(raw, &v) == nil {
				rec.Body = joinParts(v.RichText)
			}
		case propPriority:
			var v struct {
				Select *namedOption `json:"select"`
			}
			if json.Unmarshal(raw, &v) == nil && v.Select != nil {
				rec.Priority = v.Select.Name
			}
		case propProgress:
			var v struct {
				Status *namedOption `json:"status"`
			}
			if json.Unmarshal(raw, &v) == nil && v.Status != nil {
				rec.Progress = v.Status.Name
			}
		case propTags:
			var v struct {
				MultiSelect []namedOption `json:"multi_select"`
			}
			if json.Unmarshal(raw, &v) == nil {
				for _, tag := range v.MultiSelect {
					if tag.Name != "" {
						rec.Tags = append(rec.Tags, tag.Name)
					}
				}
			}
		case propDeadline:
			var v struct {
				Date *struct {
					Start string `json:"start"`
				} `json:"date"`
			}
			if json.Unmarshal(raw, &v) == nil && v.Date != nil {
				rec.Deadline = v.Date.Start
			}
		}
	}
	return rec
}

func joinParts(parts []textPart) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.PlainText != "" {
			sb.WriteString(p.PlainText)
		} else {
			sb.WriteString(p.Text.Content)
		}
	}
	return strings.TrimSpace(sb.String())
}

// fieldsToProperties converts mutation fields to Notion property payloads.
// Unset fields are omitted so updates stay partial.
func fieldsToProperties(f *types.Fields) map[string]any {
	props := make(map[string]any)
	if f == nil {
		return props
	}

	if f.Title != nil {
		props[propTitle] = map[string]any{
			"title": []any{richText(*f.Title)},
		}
	}
	if f.Body != nil {
		props[propBody] = map[string]any{
			"rich_text": []any{richText(*f.Body)},
		}
	}
	if f.Priority != nil {
		props[propPriority] = map[string]any{
			"select": namedOption{Name: *f.Priority},
		}
	}
	if f.Progress != nil {
		props[propProgress] = map[string]any{
			"status": namedOption{Name: *f.Progress},
		}
	}
	if f.Tags != nil {
		tags := make([]namedOption, 0, len(f.Tags))
		for _, t := range f.Tags {
			tags = append(tags, namedOption{Name: t})
		}
		props[propTags] = map[string]any{"multi_select": tags}
	}
	if f.Deadline != nil {
		props[propDeadline] = map[string]any{
			"date": map[string]any{"start": *f.Deadline},
		}
	}
	return props
}

func richText(content string) map[string]any {
	return map[string]any{
		"text": map[string]any{"content": content},
	}
}
