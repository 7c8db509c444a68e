package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/config"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/manager"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/utils"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/version"
)

// app wires configuration, logging and the manager for one command run.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	mgr    *manager.Manager
}

func newApp(opts *rootOptions, sink models.Sink) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	over := config.Overrides{
		Root:               opts.v.GetString("root"),
		PatchBaseURL:       opts.v.GetString("patch-base-url"),
		RuntimeManifestURL: opts.v.GetString("runtime-manifest-url"),
	}
	if opts.debug {
		over.LogLevel = logrus.DebugLevel.String()
	}
	if err := cfg.Apply(over); err != nil {
		return nil, err
	}

	logger := utils.NewLoggerWithOptions(cfg.LogOptions())
	fetcher := utils.NewFetcher(utils.WithUserAgent(version.UserAgent()))
	mgr := manager.New(manager.Options{
		Paths:              utils.NewPaths(cfg.Root),
		Endpoints:          cfg.Endpoints(),
		Fetcher:            fetcher,
		Logger:             logger,
		RuntimeManifestURL: cfg.RuntimeManifestURL,
		Sink:               sink,
		AuxToken:           cfg.AuxToken,
	})
	logger.Debugf("emlpatch %s using %s", version.String(), cfg.Root)
	return &app{cfg: cfg, logger: logger, mgr: mgr}, nil
}

func (a *app) Close() {
	a.logger.Close()
}

// readLoaderConfig reads a loader configuration from path, or stdin for "-".
func readLoaderConfig(path string, stdin io.Reader) (models.LoaderConfig, error) {
	var cfg models.LoaderConfig
	if path == "" {
		return cfg, fmt.Errorf("--config is required")
	}
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode loader config: %w", err)
	}
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireInstance(id string) error {
	if id == "" {
		return fmt.Errorf("--instance is required")
	}
	return utils.ValidateInstanceID(id)
}
