package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration loaded from environment variables.
type Config struct {
	Port           string     `env:"PORT" envDefault:"3000"`
	DBPath         string     `env:"DB_PATH" envDefault:"data/combatd.db"`
	AllowedOrigins []string   `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	APIToken       string     `env:"API_TOKEN"`
	LogLevel       slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	LogRetention   int        `env:"LOG_RETENTION" envDefault:"50"`
	OTELEndpoint   string     `env:"OTEL_ENDPOINT"`
	OTELEnabled    bool       `env:"OTEL_ENABLED" envDefault:"true"`
}

const defaultAllowedOrigin = "*"

// LoadConfig builds a Config from the environment, applying defaults for
// unset variables. Malformed values are reported rather than ignored.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.LogRetention <= 0 {
		return Config{}, fmt.Errorf("parse env: LOG_RETENTION must be positive, got %d", cfg.LogRetention)
	}
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.AllowedOrigins = parseAllowedOrigins(cfg.AllowedOrigins)
	return cfg, nil
}

// ListenAddr is the address the HTTP server binds to.
func (c Config) ListenAddr() string {
	return ":" + c.Port
}

func parseAllowedOrigins(raw []string) []string {
	var origins []string
	for _, origin := range raw {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigin}
	}
	return origins
}
