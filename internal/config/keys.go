package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "STUDYCIRCLE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "oracle.gemini_api_key", typ: kString, env: "STUDYCIRCLE_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Oracle.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.GeminiAPIKey },
	},
	{
		key: "oracle.chat_model", typ: kString, env: "STUDYCIRCLE_ORACLE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.ChatModel },
	},
	{
		key: "oracle.extract_model", typ: kString, env: "STUDYCIRCLE_ORACLE_EXTRACT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.ExtractModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.ExtractModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STUDYCIRCLE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "agent.turn_timeout", typ: kString, env: "STUDYCIRCLE_AGENT_TURN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.TurnTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.TurnTimeout },
	},
	{
		key: "log.level", typ: kString, env: "STUDYCIRCLE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
