package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces recalld environment variables.
	envPrefix = "RECALLD_"

	maxConfigFileSize = 1024 * 1024
)

// Load reads configuration from a YAML file, overrides it with RECALLD_*
// environment variables, applies defaults, and validates the result.
//
// Precedence (highest first):
//  1. Environment variables (RECALLD_POSTGRES_URL, RECALLD_LOGGING_LEVEL, ...)
//  2. The YAML file (default ~/.config/recalld/config.yaml)
//  3. Defaults
//
// Environment variables map to sections by splitting on the first
// underscore after the prefix: RECALLD_SERVER_HTTP_ADDR becomes
// server.http_addr, RECALLD_EMBEDDINGS_BASE_URL becomes
// embeddings.base_url.
//
// The file must live under ~/.config/recalld/ or /etc/recalld/, be owner
// readable only (0600 or 0400), and stay under 1MB. A missing file is not
// an error; everything can come from the environment.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "recalld", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor so the checked
		// file is the file that gets read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envToKey maps RECALLD_SECTION_FIELD_NAME to section.field_name. The
// split happens on the first underscore only; field names keep theirs.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates ~/.config/recalld with owner-only permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "recalld")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath restricts config files to the recalld directories,
// resolving symlinks so links cannot point elsewhere.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// The file may not exist yet; validate the literal path.
		resolved = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}
	allowed := []string{
		filepath.Join(home, ".config", "recalld"),
		"/etc/recalld",
	}
	for _, dir := range allowed {
		if strings.HasPrefix(resolved, dir+string(filepath.Separator)) || resolved == dir {
			return nil
		}
	}
	return fmt.Errorf("config file must live under ~/.config/recalld/ or /etc/recalld/")
}

// validateConfigFileProperties checks permissions and size on the opened
// file's info.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure permissions %v (want 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
