package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DENTALSRS_"

// Load builds the configuration. Precedence, highest first:
//  1. DENTALSRS_* environment variables (nesting with "__",
//     e.g. DENTALSRS_DATABASE__DSN -> database.dsn)
//  2. TELEGRAM_BOT_TOKEN and DB_TYPE, kept for older deployments
//  3. the YAML file at path, if path is not empty
//  4. Default()
//
// A .env file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && !k.Exists("telegram.token") {
		cfg.Telegram.Token = token
	}
	if dbType := os.Getenv("DB_TYPE"); dbType != "" && !k.Exists("database.driver") {
		if dbType == "sqlite" {
			dbType = "sqlite3"
		}
		cfg.Database.Driver = dbType
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DENTALSRS_JOBS__RECOMPUTE_AT to jobs.recompute_at.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
