// Package transcribe is a client for a Gladia-style speech-to-text API:
// upload the audio, start a transcription job, poll until it finishes.
package transcribe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client is a speech-to-text API client
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
}

const defaultBaseURL = "https://api.gladia.io/v2"

// NewClient creates a transcription client. Empty baseURL selects the default.
func NewClient(baseURL, apiKey string, pollInterval, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads audio, starts a job, and polls for the transcript
func (c *Client) Transcribe(audio []byte) (string, error) {
	audioURL, err := c.upload(audio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	resultURL, err := c.startJob(audioURL)
	if err != nil {
		return "", fmt.Errorf("start transcription: %w", err)
	}

	return c.poll(resultURL)
}

func (c *Client) upload(audio []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio", "voice.oga")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("x-gladia-key", c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result struct {
		AudioURL string `json:"audio_url"`
	}
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.AudioURL == "" {
		return "", fmt.Errorf("upload returned no audio_url")
	}
	return result.AudioURL, nil
}

func (c *Client) startJob(audioURL string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"audio_url":       audioURL,
		"detect_language": true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/pre-recorded", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-gladia-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		ResultURL string `json:"result_url"`
	}
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.ResultURL == "" {
		return "", fmt.Errorf("start returned no result_url")
	}
	return result.ResultURL, nil
}

type pollResponse struct {
	Status string `json:"status"` // queued, processing, done, error
	Error  string `json:"error_message,omitempty"`
	Result struct {
		Transcription struct {
			FullTranscript string `json:"full_transcript"`
		} `json:"transcription"`
	} `json:"result"`
}

// maxPolls bounds how long a job may sit queued or processing before the
// transcription is abandoned; the message stays unmarked and is retried on a
// later run.
const maxPolls = 150

func (c *Client) poll(resultURL string) (string, error) {
	for i := 0; i < maxPolls; i++ {
		time.Sleep(c.pollInterval)

		req, err := http.NewRequest(http.MethodGet, resultURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("x-gladia-key", c.apiKey)

		var result pollResponse
		if err := c.do(req, &result); err != nil {
			return "", fmt.Errorf("poll result: %w", err)
		}

		switch result.Status {
		case "done":
			return result.Result.Transcription.FullTranscript, nil
		case "error":
			if result.Error == "" {
				result.Error = "unknown transcription error"
			}
			return "", fmt.Errorf("transcription failed: %s", result.Error)
		}
		// queued/processing: keep polling; the http client timeout bounds
		// each poll, the resolver bounds overall concurrency
	}
	return "", fmt.Errorf("transcription still pending after %d polls", maxPolls)
}

// do executes a request and decodes a JSON response into out
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transcription API error (%d): %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
