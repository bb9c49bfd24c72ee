// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"go.parley.dev/parley/voicesession/realtime"
)

const (
	appName        = "parley"
	configFileName = "config.json"
)

// Config represents the application configuration.
type Config struct {
	// APIKey is the standing OpenAI key used to mint session credentials
	// and run the moderation classifier.
	APIKey string `json:"api_key,omitempty"`

	// Model is the realtime model for voice sessions.
	Model string `json:"model,omitempty"`

	// ModerationModel is the chat model used by the guardrail classifier.
	ModerationModel string `json:"moderation_model,omitempty"`

	// Instructions is the agent system prompt.
	Instructions string `json:"instructions,omitempty"`

	// Greeting is the synthetic opening user turn.
	Greeting string `json:"greeting,omitempty"`

	// ThreadID identifies the persisted conversation. Minted on first run.
	ThreadID string `json:"thread_id,omitempty"`

	// TurnMode selects "vad" or "ptt".
	TurnMode string `json:"turn_mode,omitempty"`

	// Transport selects "webrtc" or "websocket". The WebSocket fallback
	// suits networks where UDP is blocked.
	Transport string `json:"transport,omitempty"`

	// PTTKey is the global push-to-talk key.
	PTTKey string `json:"ptt_key,omitempty"`

	// VAD tunes server voice activity detection.
	VAD VADConfig `json:"vad"`
}

// VADConfig mirrors the server turn-detection tuning.
type VADConfig struct {
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// Load loads configuration from the config file.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SetAPIKey stores the key and saves.
func (c *Config) SetAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("api key required")
	}
	c.APIKey = key
	return c.Save()
}

// SetTurnMode stores the turn mode and saves.
func (c *Config) SetTurnMode(mode string) error {
	if mode != "vad" && mode != "ptt" {
		return fmt.Errorf("unknown turn mode: %s", mode)
	}
	c.TurnMode = mode
	return c.Save()
}

// TurnDetection converts the VAD tuning into a session turn-detection config.
func (c *Config) TurnDetection() realtime.TurnDetection {
	td := realtime.TurnDetection{
		Type:              "server_vad",
		Threshold:         c.VAD.Threshold,
		PrefixPaddingMs:   c.VAD.PrefixPaddingMs,
		SilenceDurationMs: c.VAD.SilenceDurationMs,
		CreateResponse:    true,
	}
	return td
}

// DataDir returns the directory for the transcript database, creating it if
// needed.
func DataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	path := filepath.Join(dir, appName, "transcripts")
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return path, nil
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = realtime.DefaultModel
	}
	if c.Greeting == "" {
		c.Greeting = "Hi!"
	}
	if c.ThreadID == "" {
		c.ThreadID = uuid.NewString()
	}
	if c.TurnMode == "" {
		c.TurnMode = "vad"
	}
	if c.Transport == "" {
		c.Transport = "webrtc"
	}
	if c.PTTKey == "" {
		c.PTTKey = "f9"
	}
	if c.VAD.Threshold == 0 {
		c.VAD.Threshold = 0.5
	}
	if c.VAD.PrefixPaddingMs == 0 {
		c.VAD.PrefixPaddingMs = 300
	}
	if c.VAD.SilenceDurationMs == 0 {
		c.VAD.SilenceDurationMs = 500
	}
}
