// Package config loads process configuration: .env files plus the
// per-strategy trading configuration that drives the coordinator, the
// prompt, and the guardrail constraints.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
)

// LoadDotenv loads environment variables from .env files: first
// <user config dir>/tradeengine/.env (os.UserConfigDir: ~/Library/Application
// Support on macOS, $XDG_CONFIG_HOME or ~/.config on Linux, %AppData% on
// Windows), then walking up from this source file's directory to the module
// root (the first directory carrying go.mod or .git) and attempting a load
// at every level. When ENV_FILE is set, only that file is loaded. Existing
// OS/CI variables are never overridden unless DOTENV_OVERLOAD=1. Skips
// entirely when NO_DOTENV=1.
func LoadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(path string) {
		if overload {
			_ = godotenv.Overload(path)
		} else {
			_ = godotenv.Load(path)
		}
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}

	if dir, err := os.UserConfigDir(); err == nil {
		load(filepath.Join(dir, "tradeengine", ".env"))
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		load(".env")
		return
	}

	dir := filepath.Dir(file)
	for i := 0; i < 8; i++ {
		load(filepath.Join(dir, ".env"))
		if exists(filepath.Join(dir, "go.mod")) || exists(filepath.Join(dir, ".git")) {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Getenv returns the environment variable at key, or fallback when unset
// or empty.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
