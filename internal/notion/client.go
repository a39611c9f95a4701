// Package notion is the record-store collaborator: a client for a Notion
// database holding the structured records the pipeline reconciles against.
package notion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"scribe/internal/types"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
)

// Client is a Notion API client scoped to one database
type Client struct {
	token      string
	databaseID string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given database
func NewClient(token, databaseID string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:      token,
		databaseID: databaseID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientWithBaseURL creates a client against a non-default API host
// (used in tests)
func NewClientWithBaseURL(token, databaseID, baseURL string, timeout time.Duration) *Client {
	c := NewClient(token, databaseID, timeout)
	c.baseURL = baseURL
	return c
}

// APIError is a Notion API failure with its HTTP status, used by the
// executor to classify failures as retryable or terminal
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion API error (%d %s): %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a Notion 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsRetryable reports whether err is worth retrying: rate limits, server
// errors, and transport failures. Validation and not-found errors are not.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return err != nil // network/timeout errors have no status
}

// request makes an authenticated request and returns the response body
func (c *Client) request(method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return respBody, nil
}

// Schema retrieves the database schema simplified to property name, type and
// enum options — the shape the decision engine validates mutations against
func (c *Client) Schema() (types.Schema, error) {
	body, err := c.request(http.MethodGet, "/databases/"+c.databaseID, nil)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Properties map[string]struct {
			Type        string           `json:"type"`
			Select      *optionContainer `json:"select,omitempty"`
			Status      *optionContainer `json:"status,omitempty"`
			MultiSelect *optionContainer `json:"multi_select,omitempty"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode database schema: %w", err)
	}

	schema := make(types.Schema, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		p := types.Property{Type: prop.Type}
		for _, oc := range []*optionContainer{prop.Select, prop.Status, prop.MultiSelect} {
			if oc != nil {
				for _, opt := range oc.Options {
					p.Options = append(p.Options, opt.Name)
				}
			}
		}
		schema[name] = p
	}
	return schema, nil
}

type optionContainer struct {
	Options []struct {
		Name string `json:"name"`
	} `json:"options"`
}

// ListActive queries all pages whose progress is not Done, following
// pagination. Archived pages are excluded by the API itself.
func (c *Client) ListActive() ([]types.Record, error) {
	var records []types.Record
	var cursor string

	for {
		query := map[string]any{
			"filter": map[string]any{
				"property": "progress",
				"status":   map[string]any{"does_not_equal": "Done"},
			},
		}
		if cursor != "" {
			query["start_cursor"] = cursor
		}

		body, err := c.request(http.MethodPost, "/databases/"+c.databaseID+"/query", query)
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Results    []page `json:"results"`
			HasMore    bool   `json:"has_more"`
			NextCursor string `json:"next_cursor"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decode query response: %w", err)
		}

		for _, p := range parsed.Results {
			records = append(records, p.toRecord())
		}
		if !parsed.HasMore || parsed.NextCursor == "" {
			break
		}
		cursor = parsed.NextCursor
	}
	return records, nil
}

// Create adds a new page with the given fields and returns its record ID
func (c *Client) Create(fields *types.Fields) (string, error) {
	body, err := c.request(http.MethodPost, "/pages", map[string]any{
		"parent":     map[string]any{"database_id": c.databaseID},
		"properties": fieldsToProperties(fields),
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return parsed.ID, nil
}

// Update patches an existing page's fields
func (c *Client) Update(recordID string, fields *types.Fields) error {
	_, err := c.request(http.MethodPatch, "/pages/"+recordID, map[string]any{
		"properties": fieldsToProperties(fields),
	})
	return err
}

// Archive removes a page from the active view
func (c *Client) Archive(recordID string) error {
	_, err := c.request(http.MethodPatch, "/pages/"+recordID, map[string]any{
		"archived": true,
	})
	return err
}
