package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/IkyMax/EML-Lib-v2-sub000/internal/models"
	"github.com/IkyMax/EML-Lib-v2-sub000/internal/version"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	debug bool
	v     *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: newViper()}
	rootCmd := &cobra.Command{
		Use:   "emlpatch",
		Short: "Game installer and updater",
		Long:  "emlpatch installs game instances from vendor delta patches, keeps them updated and swaps online patches around updates.",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.debug {
				log.SetLevel(log.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
		SilenceUsage: true,
		Version:      version.String(),
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&opts.debug, "debug", false, "enable debug level logging")
	flags.String("root", "", "data folder (default: per-user application data)")
	flags.String("patch-base-url", "", "base URL of the vendor patch server")
	flags.String("runtime-manifest-url", "", "URL of the runtime manifest")
	for _, name := range []string{"root", "patch-base-url", "runtime-manifest-url"} {
		_ = opts.v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newInstallCmd(opts),
		newCheckCmd(opts),
		newHealthCmd(opts),
		newPatchCmd(opts),
		newWipeCmd(opts),
		newRuntimeCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("eml")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Error("Interrupted")
		case errors.Is(err, models.ErrUnsupportedPlatform):
			log.Errorf("This platform is not supported: %v", err)
		default:
			log.Errorf("Error: %v", err)
		}
		stop()
		os.Exit(1)
	}
}
