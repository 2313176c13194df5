package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"humansign/internal/chain"
	"humansign/internal/seal"
	"humansign/internal/signer"
)

// eventsFile accepts either a bare array of [timestamp, type] tuples or an
// object carrying the array under "events".
type eventsFile struct {
	Events []chain.Event `json:"events"`
}

func readEvents(r io.Reader) ([]chain.Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var events []chain.Event
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("parse events: %w", err)
		}
		return events, nil
	}
	var f eventsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	return f.Events, nil
}

// buildChain replays events into a chain, sealing a block every blockSize
// events and flushing the remainder.
func buildChain(events []chain.Event, blockSize int) ([]chain.Block, error) {
	c := chain.New()
	for _, e := range events {
		c.AddEvent(e.Timestamp, e.Type)
		if blockSize > 0 && c.PendingCount() >= blockSize {
			if _, err := c.SealBlock(); err != nil {
				return nil, err
			}
		}
	}
	return c.Finalize()
}

func newSealCmd(opts *rootOptions) *cobra.Command {
	var (
		eventsPath string
		output     string
		keyPath    string
		meta       seal.Metadata
	)
	cmd := &cobra.Command{
		Use:   "seal <document>",
		Short: "Seal recorded keystroke events and a document into a token",
		Long: `Seal a recorded keystroke event log together with the hash of a document.

The events file holds [timestamp_ms, "keydown"|"keyup"] tuples, either as a
bare JSON array or under an "events" key. Use "-" to read it from stdin.
The artifact is written next to the document unless --out is given.

Examples:
  humansign seal essay.txt --events keys.json
  humansign seal essay.txt --events - --subject alice --session-index 2 < keys.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if keyPath == "" {
				keyPath = cfg.Signing.PrivateKeyPath
			}
			if meta.Subject == "" {
				meta.Subject = cfg.Signing.Subject
			}
			if output == "" {
				output = args[0] + cfg.Verify.ArtifactExtension
			}

			document, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}

			var in io.Reader = cmd.InOrStdin()
			if eventsPath != "-" {
				f, err := os.Open(eventsPath)
				if err != nil {
					return fmt.Errorf("open events: %w", err)
				}
				defer f.Close()
				in = f
			}
			events, err := readEvents(in)
			if err != nil {
				return err
			}

			blocks, err := buildChain(events, cfg.Chain.BlockSize)
			if err != nil {
				return err
			}

			key, err := signer.LoadPrivateKey(keyPath)
			if err != nil {
				return fmt.Errorf("load signing key: %w", err)
			}
			res, err := seal.NewSealer(key).Seal(meta, blocks, document)
			if err != nil {
				return err
			}

			// The artifact is the bare compact token, nothing else.
			if err := os.WriteFile(output, []byte(res.Token), 0644); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return outputJSON(out, map[string]any{
					"artifact":      output,
					"event_count":   res.EventCount,
					"block_count":   res.BlockCount,
					"document_hash": res.DocumentHash,
					"issued_at":     res.IssuedAt,
				})
			}
			fmt.Fprintf(out, "Sealed %d events in %d blocks\n", res.EventCount, res.BlockCount)
			fmt.Fprintf(out, "  Document hash: %s\n", res.DocumentHash)
			fmt.Fprintf(out, "  Artifact:      %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&eventsPath, "events", "e", "", "keystroke events file, or - for stdin")
	cmd.Flags().StringVarP(&output, "out", "o", "", "artifact output path")
	cmd.Flags().StringVar(&keyPath, "key", "", "private key path (default from config)")
	cmd.Flags().StringVar(&meta.Subject, "subject", "", "token subject (default from config)")
	cmd.Flags().IntVar(&meta.SessionIndex, "session-index", 0, "session index recorded in the token")
	cmd.Flags().IntVar(&meta.Rep, "rep", 0, "repetition counter recorded in the token")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}
