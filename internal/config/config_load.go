package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18980,
			RateLimitRPM: 60,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.omnidesk/omnidesk.db",
		},
		Media: MediaConfig{
			Dir:              "~/.omnidesk/media",
			MaxDownloadBytes: 25 * 1024 * 1024,
			Thumbnails:       true,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				CredentialsPath: "~/.omnidesk/wa-credentials.json",
			},
			Meta: MetaConfig{
				GraphURL: "https://graph.facebook.com/v19.0",
			},
		},
		Automation: AutomationConfig{
			Enabled:      true,
			HistoryLimit: 10,
			AI: AIProvider{
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			expandPaths(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(cfg)
	expandPaths(cfg)
	return cfg, nil
}

// applyEnv overlays secrets from the environment. Secrets never live in the
// config file in managed deployments.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OMNIDESK_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("OMNIDESK_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("OMNIDESK_META_VERIFY_TOKEN"); v != "" {
		cfg.Channels.Meta.VerifyToken = v
	}
	if v := os.Getenv("OMNIDESK_META_PAGE_TOKEN"); v != "" {
		cfg.Channels.Meta.PageToken = v
	}
	if v := os.Getenv("OMNIDESK_AI_API_KEY"); v != "" {
		cfg.Automation.AI.APIKey = v
	}
}

func expandPaths(cfg *Config) {
	cfg.Database.SQLitePath = expandHome(cfg.Database.SQLitePath)
	cfg.Media.Dir = expandHome(cfg.Media.Dir)
	cfg.Channels.WhatsApp.CredentialsPath = expandHome(cfg.Channels.WhatsApp.CredentialsPath)
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
