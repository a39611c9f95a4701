package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables for a scribe instance. Secrets (API tokens) come
// from the environment, not from this file.
type Config struct {
	StatePath string `yaml:"state_path"` // directory for cursor + journal files

	// Run triggers
	SweepInterval time.Duration `yaml:"sweep_interval"` // scheduled run cadence
	WebhookPort   string        `yaml:"webhook_port"`   // push-notification listener

	// Resolver
	MaxConcurrentTranscriptions int           `yaml:"max_concurrent_transcriptions"`
	MaxTranscriptionsPerHour    int           `yaml:"max_transcriptions_per_hour"` // 0 = uncapped
	TranscribePollInterval      time.Duration `yaml:"transcribe_poll_interval"`

	// Retrieval
	TopK int `yaml:"top_k"` // similar records per thought

	// Executor
	RetryAttempts int           `yaml:"retry_attempts"` // per retryable mutation
	RetryBackoff  time.Duration `yaml:"retry_backoff"`  // base backoff, doubled per attempt

	// Collaborator endpoints and timeouts
	OllamaURL      string        `yaml:"ollama_url"`
	EmbedModel     string        `yaml:"embed_model"`
	CompleteModel  string        `yaml:"complete_model"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // per network call
}

// Default returns the configuration used when no config file exists
func Default() Config {
	return Config{
		StatePath:                   "state",
		SweepInterval:               5 * time.Minute,
		WebhookPort:                 "8320",
		MaxConcurrentTranscriptions: 2,
		MaxTranscriptionsPerHour:    50,
		TranscribePollInterval:      2 * time.Second,
		TopK:                        5,
		RetryAttempts:               3,
		RetryBackoff:                500 * time.Millisecond,
		OllamaURL:                   "http://localhost:11434",
		EmbedModel:                  "nomic-embed-text",
		CompleteModel:               "llama3.2",
		RequestTimeout:              60 * time.Second,
	}
}

// Load reads a YAML config file, filling unset fields with defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.MaxConcurrentTranscriptions < 1 {
		cfg.MaxConcurrentTranscriptions = 1
	}
	if cfg.MaxTranscriptionsPerHour < 0 {
		cfg.MaxTranscriptionsPerHour = 0
	}
	if cfg.TopK < 1 {
		cfg.TopK = 1
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return cfg, nil
}
