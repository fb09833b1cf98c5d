package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Oracle  OracleConfig
	Storage StorageConfig
	Agent   AgentConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type OracleConfig struct {
	GeminiAPIKey string
	ChatModel    string
	ExtractModel string
}

type StorageConfig struct {
	DataDir string
}

type AgentConfig struct {
	TurnTimeout string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Oracle: OracleConfig{
			ChatModel:    "gemini-2.5-flash",
			ExtractModel: "gemini-2.5-flash",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Agent: AgentConfig{
			TurnTimeout: "60s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.studycircle.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/studycircle/config.json
// and secrets must be provided via environment variables or the secrets file.
//
// Environment variables (STUDYCIRCLE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Oracle.GeminiAPIKey == "" {
		if key, err := kc.Get("studycircle", "gemini_api_key"); err == nil && key != "" {
			cfg.Oracle.GeminiAPIKey = key
		}
	}

	if cfg.Oracle.GeminiAPIKey == "" {
		msg := "missing required config: Gemini API key. " +
			"Set it via environment variable STUDYCIRCLE_GEMINI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	if _, err := time.ParseDuration(cfg.Agent.TurnTimeout); err != nil {
		return Config{}, fmt.Errorf("invalid agent.turn_timeout %q: %w", cfg.Agent.TurnTimeout, err)
	}

	return cfg, nil
}

// TurnTimeout returns the parsed agent turn timeout.
// Load validates the value, so this never fails on a loaded config.
func (c Config) TurnTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.TurnTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
