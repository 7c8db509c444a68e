package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
)

// Config holds the engine settings shared by every command.
type Config struct {
	// Storage
	AppName string `env:"EML_APP_NAME" envDefault:"EMLPatch"`
	Root    string `env:"EML_ROOT"`

	// Remote endpoints
	PatchBaseURL       string `env:"EML_PATCH_BASE_URL"`
	RuntimeManifestURL string `env:"EML_RUNTIME_MANIFEST_URL"`
	ToolURL            string `env:"EML_TOOL_URL" envDefault:"https://broth.itch.zone/butler/%s-%s/LATEST/archive/default"`
	AuxToken           string `env:"EML_AUX_TOKEN"`

	// Logging
	LogLevel      string `env:"EML_LOG_LEVEL" envDefault:"info"`
	LogFile       string `env:"EML_LOG_FILE"`
	LogMaxSizeMB  int    `env:"EML_LOG_MAX_SIZE_MB" envDefault:"10"`
	LogMaxBackups int    `env:"EML_LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"EML_LOG_MAX_AGE_DAYS" envDefault:"28"`

	// Status API
	ListenAddr string `env:"EML_LISTEN_ADDR" envDefault:"127.0.0.1:8787"`
}

// Load reads an optional .env file (EML_ENV_FILE, then ./.env) and parses
// the environment. Variables already set win over the file.
func Load() (*Config, error) {
	locations := []string{".env"}
	if f := os.Getenv("EML_ENV_FILE"); f != "" {
		locations = append([]string{f}, locations...)
	}
	for _, loc := range locations {
		if err := godotenv.Load(loc); err == nil {
			break
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.PatchBaseURL = strings.TrimRight(cfg.PatchBaseURL, "/")

	root, err := utils.ResolveRoot(cfg.AppName, cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve data folder: %w", err)
	}
	cfg.Root = root
	if cfg.LogFile == "" {
		cfg.LogFile = utils.NewPaths(root).LogFile()
	}
	return cfg, nil
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// LogOptions maps the logging settings onto the logger.
func (c *Config) LogOptions() utils.LogOptions {
	return utils.LogOptions{
		File:       c.LogFile,
		Level:      c.Level().String(),
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	}
}

// Endpoints returns the remote URL builder.
func (c *Config) Endpoints() utils.Endpoints {
	e := utils.NewEndpoints(c.PatchBaseURL)
	if c.ToolURL != "" {
		e.ToolURL = c.ToolURL
	}
	return e
}

// RequireRemote reports the endpoint settings an install cannot run without.
func (c *Config) RequireRemote() error {
	var missing []string
	if c.PatchBaseURL == "" {
		missing = append(missing, "EML_PATCH_BASE_URL")
	}
	if c.RuntimeManifestURL == "" {
		missing = append(missing, "EML_RUNTIME_MANIFEST_URL")
	}
	if len(missing) > 0 {
		return errors.New("missing configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// Overrides carries command line values that take precedence over the
// environment. Empty fields are ignored.
type Overrides struct {
	Root               string
	PatchBaseURL       string
	RuntimeManifestURL string
	LogLevel           string
}

// Apply merges o into c, resolving a new root when one is given.
func (c *Config) Apply(o Overrides) error {
	if o.Root != "" {
		root, err := utils.ResolveRoot(c.AppName, o.Root)
		if err != nil {
			return fmt.Errorf("resolve data folder: %w", err)
		}
		if c.LogFile == utils.NewPaths(c.Root).LogFile() {
			c.LogFile = utils.NewPaths(root).LogFile()
		}
		c.Root = root
	}
	if o.PatchBaseURL != "" {
		c.PatchBaseURL = strings.TrimRight(o.PatchBaseURL, "/")
	}
	if o.RuntimeManifestURL != "" {
		c.RuntimeManifestURL = o.RuntimeManifestURL
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return nil
}
