package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"humansign/internal/signer"
	"humansign/internal/verify"
)

// errForged is returned after the report is written so the exit status
// reflects the verdict.
var errForged = errors.New("verdict: FORGED")

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		documentPath string
		keyPath      string
		format       string
		output       string
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "verify <artifact>",
		Short: "Verify a humansign artifact",
		Long: `Verify a humansign artifact or bare token.

Checks the token framing, payload contract, RS256 signature and chain
integrity. With --document the sealed document hash is compared as well;
a mismatch is reported but does not change the verdict.

Exits non-zero when the verdict is FORGED.

Examples:
  humansign verify essay.txt.humansign --document essay.txt
  humansign verify token.txt --format markdown -o report.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if keyPath == "" {
				keyPath = cfg.Signing.PublicKeyPath
			}
			if opts.jsonOutput {
				format = string(verify.FormatJSON)
			}
			reportFormat, err := verify.ParseReportFormat(format)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}
			tok, err := verify.ParseArtifact(raw, cfg.Verify.MaxArtifactBytes)
			if err != nil {
				return err
			}

			var document []byte
			if documentPath != "" {
				if document, err = os.ReadFile(documentPath); err != nil {
					return fmt.Errorf("read document: %w", err)
				}
			}

			pub, err := signer.LoadPublicKey(keyPath)
			if err != nil {
				return fmt.Errorf("load public key: %w", err)
			}
			res := verify.New(pub).Verify(cmd.Context(), tok, document)

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create report: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := verify.NewReportGenerator(reportFormat).WithVerbose(verbose).Generate(res, w); err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
			}

			if !res.Genuine() {
				return errForged
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&documentPath, "document", "d", "", "document to check against the sealed hash")
	cmd.Flags().StringVar(&keyPath, "key", "", "public key path (default from config)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "report format: text, json, markdown, html")
	cmd.Flags().StringVarP(&output, "out", "o", "", "write the report to a file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show full hashes and check details")
	return cmd
}
