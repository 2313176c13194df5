package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"humansign/internal/config"
	"humansign/internal/signer"
)

func configPath(opts *rootOptions) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	return config.ConfigPath()
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration and signing key",
		Long: `Initialize humansign for this user.

This creates:
  - the configuration file, unless one exists
  - the data directories named in it
  - an RSA signing key pair, unless the private key exists`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(opts)
			cfg, created, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Wrote default configuration to %s\n", path)
			} else {
				fmt.Fprintf(out, "Using configuration %s\n", path)
			}

			if _, err := os.Stat(cfg.Signing.PrivateKeyPath); os.IsNotExist(err) {
				fmt.Fprintf(out, "Generating %d-bit RSA signing key...\n", cfg.Signing.KeyBits)
				key, err := signer.GenerateKeyPair(cfg.Signing.KeyBits)
				if err != nil {
					return err
				}
				if err := signer.WriteKeyPair(key, cfg.Signing.PrivateKeyPath, cfg.Signing.PublicKeyPath); err != nil {
					return err
				}
				fp, _ := signer.Fingerprint(&key.PublicKey)
				auditKeyGenerated(cfg, fp, key.N.BitLen())
				fmt.Fprintf(out, "  Fingerprint: %s\n", fp)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "humansign initialized. Start the daemon with: humansign serve")
			return nil
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  `Print the configuration after defaults, the file and HUMANSIGN_* environment overrides.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return outputJSON(cmd.OutOrStdout(), cfg)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), configPath(opts))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Check a configuration file for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(opts)
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", filepath.Clean(path))
			return nil
		},
	})
	return cmd
}
