package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"humansign/internal/config"
	"humansign/internal/logging"
	"humansign/internal/signer"
)

func newKeygenCmd(opts *rootOptions) *cobra.Command {
	var (
		bits    int
		force   bool
		privOut string
		pubOut  string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key pair",
		Long: `Generate an RSA key pair for sealing tokens.

The private key is written as PKCS#8 PEM with mode 0600 and the public key as
PKIX PEM. Paths default to the signing section of the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if privOut == "" {
				privOut = cfg.Signing.PrivateKeyPath
			}
			if pubOut == "" {
				pubOut = cfg.Signing.PublicKeyPath
			}
			if bits == 0 {
				bits = cfg.Signing.KeyBits
			}

			if !force {
				if _, err := os.Stat(privOut); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", privOut)
				}
			}

			key, err := signer.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			if err := signer.WriteKeyPair(key, privOut, pubOut); err != nil {
				return err
			}
			fp, err := signer.Fingerprint(&key.PublicKey)
			if err != nil {
				return err
			}
			auditKeyGenerated(cfg, fp, key.N.BitLen())

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return outputJSON(out, map[string]any{
					"private_key": privOut,
					"public_key":  pubOut,
					"bits":        key.N.BitLen(),
					"fingerprint": fp,
				})
			}
			fmt.Fprintf(out, "Generated %d-bit RSA key pair\n", key.N.BitLen())
			fmt.Fprintf(out, "  Private key: %s\n", privOut)
			fmt.Fprintf(out, "  Public key:  %s\n", pubOut)
			fmt.Fprintf(out, "  Fingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 0, "key size in bits (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing private key")
	cmd.Flags().StringVar(&privOut, "private", "", "private key output path")
	cmd.Flags().StringVar(&pubOut, "public", "", "public key output path")
	return cmd
}

// auditKeyGenerated records key creation when an audit log is configured.
// Audit failures never fail the command.
func auditKeyGenerated(cfg *config.Config, fingerprint string, bits int) {
	if cfg.Logging.AuditPath == "" {
		return
	}
	auditCfg := logging.DefaultAuditConfig()
	auditCfg.FilePath = cfg.Logging.AuditPath
	auditCfg.Component = "humansign-cli"
	audit, err := logging.NewAuditLogger(auditCfg)
	if err != nil {
		return
	}
	defer audit.Close()
	_ = audit.LogKeyGenerated(context.Background(), fingerprint, bits)
}

func newConvertKeyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "convert-key <pkcs1.pem> <pkcs8.pem>",
		Short: "Convert a PKCS#1 RSA private key to PKCS#8",
		Long: `Convert a PKCS#1 "RSA PRIVATE KEY" PEM file to the PKCS#8 "PRIVATE KEY"
form humansign loads. A key that is already PKCS#8 is copied unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			out, err := signer.ConvertPKCS1ToPKCS8(in)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], out, 0600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote PKCS#8 key to %s\n", args[1])
			return nil
		},
	}
}

func newFingerprintCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [public-key.pem]",
		Short: "Print the SHA256 fingerprint of a public key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Signing.PublicKeyPath
			}
			pub, err := signer.LoadPublicKey(path)
			if err != nil {
				return err
			}
			fp, err := signer.Fingerprint(pub)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return outputJSON(cmd.OutOrStdout(), map[string]any{
					"public_key":  path,
					"bits":        pub.N.BitLen(),
					"fingerprint": fp,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
}
