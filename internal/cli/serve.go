package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"humansign/internal/config"
	"humansign/internal/daemon"
)

// NewServeCmd returns the serve command standalone, for the humansignd
// binary.
func NewServeCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}
	cmd := newServeCmd(opts)
	cmd.Use = "humansignd"
	cmd.Version = version
	cmd.SilenceUsage = true
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config file (default "+config.ConfigPath()+")")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the humansign HTTP daemon",
		Long: `Run the capture and verification API.

Sessions persist to the configured store and resume on restart. Without a
private key the daemon serves verification only. The configuration file is
watched and the log level and block policy are applied on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.configPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := daemon.New(ctx, cfg, opts.version)
			if err != nil {
				return err
			}

			if watch {
				if _, err := os.Stat(loader.Path()); err == nil {
					if err := loader.Watch(); err != nil {
						d.Logger().Warn("config watch disabled", "error", err)
					} else {
						defer loader.Close()
						loader.OnChange(func(next *config.Config) {
							d.ApplyConfig(next, loader.Path())
						})
						go logReloadErrors(ctx, d, loader)
					}
				}
			}

			return d.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload the config file on change")
	return cmd
}

func logReloadErrors(ctx context.Context, d *daemon.Daemon, loader *config.Loader) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-loader.Errors():
			d.Logger().Error("config reload rejected", "error", err)
		}
	}
}
