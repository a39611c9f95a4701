// Package resolver turns raw inbound messages into consolidated thoughts.
// Text messages pass through unchanged; voice messages are downloaded and
// transcribed under a bounded worker pool. A failed transcription excludes
// that message from the run without marking it processed, so it is retried
// on the next run.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/types"
)

// VoiceDownloader fetches raw audio for a voice message
type VoiceDownloader interface {
	DownloadVoice(fileID string) ([]byte, error)
}

// Transcriber converts audio to text
type Transcriber interface {
	Transcribe(audio []byte) (string, error)
}

// Resolver resolves message content
type Resolver struct {
	source        VoiceDownloader
	stt           Transcriber
	maxConcurrent int
	quota         *transcriptionQuota
}

// New creates a resolver. maxConcurrent caps simultaneous transcription
// calls; maxPerHour caps transcriptions over a sliding hour (the STT
// provider meters both). Zero maxPerHour means no hourly cap.
func New(source VoiceDownloader, stt Transcriber, maxConcurrent, maxPerHour int) *Resolver {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Resolver{
		source:        source,
		stt:           stt,
		maxConcurrent: maxConcurrent,
		quota:         newTranscriptionQuota(maxPerHour, time.Hour),
	}
}

// Resolve extracts plain text from each message, preserving source order,
// and consolidates near-duplicate texts into single thoughts. Returns the
// thoughts and the IDs of messages that failed resolution this run.
func (r *Resolver) Resolve(msgs []types.InboundMessage) ([]types.Thought, []int64) {
	type result struct {
		text string
		err  error
	}
	results := make([]result, len(msgs))

	// Semaphore bounds transcription fan-out; text messages resolve inline.
	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup

	for i, msg := range msgs {
		switch msg.Kind {
		case types.KindText:
			results[i] = result{text: msg.Text}
		case types.KindVoice:
			wg.Add(1)
			go func(i int, msg types.InboundMessage) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				text, err := r.transcribe(msg)
				results[i] = result{text: text, err: err}
			}(i, msg)
		default:
			logging.Warn("resolver", "message %d has unknown kind %q, skipping", msg.ID, msg.Kind)
			results[i] = result{}
		}
	}
	wg.Wait()

	var resolved []types.Thought
	var failed []int64
	for i, res := range results {
		if res.err != nil {
			logging.Warn("resolver", "message %d failed: %v", msgs[i].ID, res.err)
			failed = append(failed, msgs[i].ID)
			continue
		}
		text := strings.TrimSpace(res.text)
		if text == "" {
			continue
		}
		resolved = append(resolved, types.Thought{Text: text, SourceIDs: []int64{msgs[i].ID}})
	}

	return Consolidate(resolved), failed
}

func (r *Resolver) transcribe(msg types.InboundMessage) (string, error) {
	// Checked before the download so an over-quota message costs nothing.
	// The message stays unmarked and is retried on a later run, when the
	// window has rolled over.
	if !r.quota.tryAcquire() {
		return "", fmt.Errorf("hourly transcription quota exhausted")
	}
	audio, err := r.source.DownloadVoice(msg.VoiceFileID)
	if err != nil {
		return "", err
	}
	text, err := r.stt.Transcribe(audio)
	if err != nil {
		return "", err
	}
	logging.Debug("resolver", "transcribed message %d: %s", msg.ID, logging.Truncate(text, 80))
	return text, nil
}

// consolidationThreshold is the minimum word-level Jaccard overlap for two
// thoughts to be treated as one idea
const consolidationThreshold = 0.5

// Consolidate merges thoughts whose texts overlap heavily into single
// thoughts, concatenating text in source order and unioning source IDs.
// "buy milk" and "buy milk tomorrow" become one thought; unrelated texts
// stay separate.
func Consolidate(thoughts []types.Thought) []types.Thought {
	if len(thoughts) < 2 {
		return thoughts
	}

	var merged []types.Thought
	for _, t := range thoughts {
		joined := false
		for i := range merged {
			if jaccard(wordSet(merged[i].Text), wordSet(t.Text)) >= consolidationThreshold {
				merged[i].Text = merged[i].Text + "\n" + t.Text
				merged[i].SourceIDs = append(merged[i].SourceIDs, t.SourceIDs...)
				joined = true
				break
			}
		}
		if !joined {
			merged = append(merged, t)
		}
	}

	for i := range merged {
		sort.Slice(merged[i].SourceIDs, func(a, b int) bool {
			return merged[i].SourceIDs[a] < merged[i].SourceIDs[b]
		})
	}
	return merged
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,!?;:")] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
