package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "SCOREBOARD_"
	envConfigFile = "SCOREBOARD_CONFIG"
	envDotenvFile = "SCOREBOARD_DOTENV"
	defaultDotenv = ".env"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if SCOREBOARD_CONFIG is set
//  3. env (prefix SCOREBOARD_), after loading a .env file when one exists
//  4. the bare GITHUB_TOKEN and PORT variables, only when the prefixed keys
//     are absent
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// SCOREBOARD_GITHUB_TOKEN -> github_token (flat keys, underscores kept).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if !k.Exists("github_token") {
		if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
			cfg.GitHubToken = tok
		}
	}
	if !k.Exists("addr") {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Addr = ":" + port
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotenv populates the process environment from a dotenv file without
// overriding variables that are already set. A missing file is not an error.
func loadDotenv() error {
	path := os.Getenv(envDotenvFile)
	if path == "" {
		path = defaultDotenv
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
	}
	return nil
}
