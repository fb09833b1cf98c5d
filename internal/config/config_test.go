package config

import (
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mockBackend is an in-memory ConfigBackend.
type mockBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (m mockBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m mockBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m mockBackend) SetString(key, val string) error { return nil }
func (m mockBackend) SetInt(key string, val int) error { return nil }
func (m mockBackend) Delete(key string) error          { return nil }

func TestDefaults(t *testing.T) {
	t.Setenv("STUDYCIRCLE_GEMINI_API_KEY", "")

	cfg, err := loadWith(mockBackend{}, mockKeychain{value: "kc-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Oracle.ChatModel != "gemini-2.5-flash" {
		t.Errorf("Oracle.ChatModel = %q, want %q", cfg.Oracle.ChatModel, "gemini-2.5-flash")
	}
	if cfg.Oracle.ExtractModel != "gemini-2.5-flash" {
		t.Errorf("Oracle.ExtractModel = %q, want %q", cfg.Oracle.ExtractModel, "gemini-2.5-flash")
	}
	if cfg.Agent.TurnTimeout != "60s" {
		t.Errorf("Agent.TurnTimeout = %q, want %q", cfg.Agent.TurnTimeout, "60s")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
}

func TestBackendValues(t *testing.T) {
	t.Setenv("STUDYCIRCLE_GEMINI_API_KEY", "env-key")

	b := mockBackend{
		strings: map[string]string{
			"oracle.chat_model":  "gemini-2.5-pro",
			"agent.turn_timeout": "30s",
		},
		ints: map[string]int{"server.port": 5000},
	}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Oracle.ChatModel != "gemini-2.5-pro" {
		t.Errorf("Oracle.ChatModel = %q, want %q", cfg.Oracle.ChatModel, "gemini-2.5-pro")
	}
	if cfg.TurnTimeout().Seconds() != 30 {
		t.Errorf("TurnTimeout = %v, want 30s", cfg.TurnTimeout())
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("STUDYCIRCLE_GEMINI_API_KEY", "env-key")
	t.Setenv("STUDYCIRCLE_SERVER_PORT", "6000")

	b := mockBackend{ints: map[string]int{"server.port": 5000}}

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env override 6000", cfg.Server.Port)
	}
	if cfg.Oracle.GeminiAPIKey != "env-key" {
		t.Errorf("GeminiAPIKey = %q, want %q", cfg.Oracle.GeminiAPIKey, "env-key")
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("STUDYCIRCLE_GEMINI_API_KEY", "")

	_, err := loadWith(mockBackend{}, mockKeychain{err: errNotFound{}})
	if err == nil {
		t.Fatal("expected error for missing Gemini API key")
	}
}

func TestInvalidTurnTimeout(t *testing.T) {
	t.Setenv("STUDYCIRCLE_GEMINI_API_KEY", "env-key")
	t.Setenv("STUDYCIRCLE_AGENT_TURN_TIMEOUT", "never")

	_, err := loadWith(mockBackend{}, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for unparseable turn timeout")
	}
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }
