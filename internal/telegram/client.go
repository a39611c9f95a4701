// Package telegram is a narrow client for the Telegram Bot API: fetching new
// updates and downloading voice files. It is the message-source collaborator
// for the ingestion pipeline.
package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"scribe/internal/types"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a Telegram Bot API client
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client with the given bot token
func NewClient(token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithBaseURL creates a client against a non-default API host
// (used in tests)
func NewClientWithBaseURL(token, baseURL string, timeout time.Duration) *Client {
	c := NewClient(token, timeout)
	c.baseURL = baseURL
	return c
}

// update mirrors the Bot API getUpdates payload (fields we consume)
type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Date      int64  `json:"date"`
		Text      string `json:"text,omitempty"`
		Voice     *struct {
			FileID   string `json:"file_id"`
			Duration int    `json:"duration"`
		} `json:"voice,omitempty"`
	} `json:"message,omitempty"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []update `json:"result"`
	Description string   `json:"description,omitempty"`
}

// FetchNew fetches updates with IDs strictly greater than after, in
// source-provided order. Updates without text or voice content are dropped
// here; they carry nothing the pipeline can resolve.
func (c *Client) FetchNew(after int64) ([]types.InboundMessage, error) {
	params := url.Values{}
	params.Set("offset", fmt.Sprintf("%d", after+1))
	params.Set("allowed_updates", `["message"]`)

	resp, err := c.httpClient.Get(fmt.Sprintf("%s/bot%s/getUpdates?%s", c.baseURL, c.token, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode getUpdates response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram API error: %s", parsed.Description)
	}

	messages := make([]types.InboundMessage, 0, len(parsed.Result))
	for _, u := range parsed.Result {
		if u.Message == nil {
			continue
		}
		msg := types.InboundMessage{
			ID:        u.UpdateID,
			Timestamp: time.Unix(u.Message.Date, 0),
		}
		switch {
		case u.Message.Voice != nil:
			msg.Kind = types.KindVoice
			msg.VoiceFileID = u.Message.Voice.FileID
		case u.Message.Text != "":
			msg.Kind = types.KindText
			msg.Text = u.Message.Text
		default:
			continue // stickers, photos etc — nothing to resolve
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

type fileResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		FilePath string `json:"file_path"`
	} `json:"result"`
	Description string `json:"description,omitempty"`
}

// DownloadVoice downloads a voice file's raw audio bytes by file ID
func (c *Client) DownloadVoice(fileID string) ([]byte, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/bot%s/getFile?file_id=%s", c.baseURL, c.token, url.QueryEscape(fileID)))
	if err != nil {
		return nil, fmt.Errorf("getFile: %w", err)
	}
	defer resp.Body.Close()

	var parsed fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode getFile response: %w", err)
	}
	if !parsed.OK || parsed.Result.FilePath == "" {
		return nil, fmt.Errorf("telegram API error: %s", parsed.Description)
	}

	dl, err := c.httpClient.Get(fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, parsed.Result.FilePath))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer dl.Body.Close()

	if dl.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", dl.StatusCode)
	}
	return io.ReadAll(dl.Body)
}
