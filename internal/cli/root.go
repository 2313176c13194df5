// Package cli implements the humansign command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"humansign/internal/config"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	jsonOutput bool
	version    string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCmd builds the humansign command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	root := &cobra.Command{
		Use:   "humansign",
		Short: "humansign - keystroke provenance for documents",
		Long: `humansign records keystroke timing into a hash-linked chain and seals it,
together with a document hash, into an RS256 signed token. Anyone holding the
public key can later check that the token is genuine and bound to the document.

No key identities are recorded, only key-down and key-up timestamps.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default "+config.ConfigPath()+")")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	root.AddCommand(
		newInitCmd(opts),
		newKeygenCmd(opts),
		newConvertKeyCmd(opts),
		newFingerprintCmd(opts),
		newSimulateCmd(opts),
		newSealCmd(opts),
		newVerifyCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
