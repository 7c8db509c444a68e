package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/manager"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/middleware"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
)

func newInstallCmd(opts *rootOptions) *cobra.Command {
	var (
		instance   string
		configPath string
		build      int
		listen     string
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install or update an instance to the configured build",
		Long: `Install brings an instance to the build named in the loader configuration.
A missing instance is installed from scratch, an older one is patched build by
build, a newer one is wiped and reinstalled. Online patches and the shared
runtime are applied afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			loader, err := readLoaderConfig(configPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if build > 0 {
				loader.BuildIndex = build
			}

			console := newConsoleSink(os.Stderr)
			var hub *middleware.Hub
			sinks := []models.Sink{console}
			if listen != "" {
				hub = middleware.NewHub(nil)
				sinks = append(sinks, hub)
			}
			a, err := newApp(opts, models.Multi(sinks...))
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireRemote(); err != nil {
				return err
			}
			if hub != nil {
				stop, err := startStatusServer(a, hub, listen)
				if err != nil {
					return err
				}
				defer stop()
			}

			console.Start()
			manifest, err := a.mgr.Install(cmd.Context(), instance, loader)
			console.Stop()
			if err != nil {
				return err
			}
			return printJSON(cmd, manifest)
		},
	}
	cmd.Flags().StringVarP(&instance, "instance", "i", "", "instance id")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "loader configuration JSON file (- for stdin)")
	cmd.Flags().IntVar(&build, "build", 0, "override the target build index")
	cmd.Flags().StringVar(&listen, "listen", "", "serve the status API on this address while installing")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		instance string
		build    int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether an instance is installed and up to date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			var expected *int
			if build > 0 {
				expected = &build
			}
			res, err := a.mgr.Checker.CheckInstallation(instance, expected)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&instance, "instance", "i", "", "instance id")
	cmd.Flags().IntVar(&build, "build", 0, "expected build index")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var (
		instance string
		build    int
		hash     string
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Hash the client and classify it against the expected build",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			if build < 1 {
				return fmt.Errorf("--build is required")
			}
			if hash != "" && !models.IsSHA256Hex(hash) {
				return fmt.Errorf("--hash must be a sha256 hex digest")
			}
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.mgr.Checker.PatchHealth(instance, build, hash)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&instance, "instance", "i", "", "instance id")
	cmd.Flags().IntVar(&build, "build", 0, "expected build index")
	cmd.Flags().StringVar(&hash, "hash", "", "expected sha256 of the client executable")
	return cmd
}

func newPatchCmd(opts *rootOptions) *cobra.Command {
	var (
		instance string
		server   bool
	)
	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Enable, disable or restore the online patch of an instance",
	}
	cmd.PersistentFlags().StringVarP(&instance, "instance", "i", "", "instance id")
	cmd.PersistentFlags().BoolVar(&server, "server", false, "act on the server jar instead of the client")

	target := func(mgr *manager.Manager) manager.PatchTarget {
		if server {
			return mgr.ServerTarget(instance)
		}
		return mgr.ClientTarget(instance)
	}

	var configPath string
	enable := &cobra.Command{
		Use:   "enable",
		Short: "Install the configured online patch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			loader, err := readLoaderConfig(configPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := loader.Validate(); err != nil {
				return err
			}
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			pc := loader.ServerPatch
			if !server {
				pc = loader.ClientPatch(a.mgr.Platform.OS)
			}
			if !pc.Configured() {
				return printJSON(cmd, map[string]manager.Outcome{"outcome": manager.OutcomeSkipped})
			}
			out, err := a.mgr.Online.Enable(cmd.Context(), target(a.mgr), manager.PatchRequest{
				URL:         pc.PatchURL,
				Hash:        pc.PatchHash,
				OriginalURL: pc.OriginalURL,
				BuildIndex:  loader.BuildIndex,
			}, newConsoleSink(os.Stderr))
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]manager.Outcome{"outcome": out})
		},
	}
	enable.Flags().StringVarP(&configPath, "config", "c", "", "loader configuration JSON file (- for stdin)")

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Put the official executable back",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.mgr.Online.Disable(cmd.Context(), target(a.mgr), nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]manager.Outcome{"outcome": out})
		},
	}

	var originalURL, originalHash string
	restore := &cobra.Command{
		Use:   "restore",
		Short: "Restore the official executable, downloading it when a URL is given",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			if originalHash != "" && !models.IsSHA256Hex(originalHash) {
				return fmt.Errorf("--original-hash must be a sha256 hex digest")
			}
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.mgr.Online.RestoreOriginal(cmd.Context(), target(a.mgr), originalURL, originalHash, nil)
		},
	}
	restore.Flags().StringVar(&originalURL, "original-url", "", "download the official executable from this URL")
	restore.Flags().StringVar(&originalHash, "original-hash", "", "expected sha256 of the official executable")

	cmd.AddCommand(enable, disable, restore)
	return cmd
}

func newWipeCmd(opts *rootOptions) *cobra.Command {
	var instance string
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Remove the installed game files of an instance",
		Long:  "Wipe deletes the manifest, game files and online patch cache so the next install starts from scratch. Instance data files are kept.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireInstance(instance); err != nil {
				return err
			}
			a, err := newApp(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.mgr.Wipe(cmd.Context(), instance); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "instance %s wiped\n", instance)
			return nil
		},
	}
	cmd.Flags().StringVarP(&instance, "instance", "i", "", "instance id")
	return cmd
}

func newRuntimeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runtime",
		Short: "Install or update the shared runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			console := newConsoleSink(os.Stderr)
			a, err := newApp(opts, console)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.RuntimeManifestURL == "" {
				return fmt.Errorf("missing configuration: EML_RUNTIME_MANIFEST_URL")
			}
			console.Start()
			v, err := a.mgr.Runtime.Ensure(cmd.Context(), a.mgr.Platform, console)
			console.Stop()
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"version": v, "platform": a.mgr.Platform.String()})
		},
	}
}
