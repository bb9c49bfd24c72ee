package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Model == "" {
		t.Error("default model empty")
	}
	if cfg.ThreadID == "" {
		t.Error("thread id not minted")
	}
	if cfg.TurnMode != "vad" {
		t.Errorf("turn mode = %q, want vad", cfg.TurnMode)
	}
	if cfg.PTTKey != "f9" {
		t.Errorf("ptt key = %q, want f9", cfg.PTTKey)
	}
	if cfg.Transport != "webrtc" {
		t.Errorf("transport = %q, want webrtc", cfg.Transport)
	}
}

func TestApplyDefaultsPreservesExisting(t *testing.T) {
	cfg := &Config{
		Model:     "gpt-realtime-mini",
		ThreadID:  "existing-thread",
		TurnMode:  "ptt",
		Transport: "websocket",
	}
	cfg.applyDefaults()

	if cfg.Model != "gpt-realtime-mini" {
		t.Errorf("model = %q, defaults must not overwrite", cfg.Model)
	}
	if cfg.ThreadID != "existing-thread" {
		t.Errorf("thread id = %q, defaults must not overwrite", cfg.ThreadID)
	}
	if cfg.TurnMode != "ptt" {
		t.Errorf("turn mode = %q, defaults must not overwrite", cfg.TurnMode)
	}
	if cfg.Transport != "websocket" {
		t.Errorf("transport = %q, defaults must not overwrite", cfg.Transport)
	}
}

func TestTurnDetection(t *testing.T) {
	cfg := defaultConfig()
	td := cfg.TurnDetection()

	if td.Type != "server_vad" {
		t.Errorf("type = %q, want server_vad", td.Type)
	}
	if td.Threshold != 0.5 || td.PrefixPaddingMs != 300 || td.SilenceDurationMs != 500 {
		t.Errorf("tuning = %+v, want defaults", td)
	}
	if !td.CreateResponse {
		t.Error("create_response = false, want true")
	}
}

func TestSetTurnModeValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.SetTurnMode("telepathy"); err == nil {
		t.Error("SetTurnMode(telepathy) = nil, want error")
	}
}
