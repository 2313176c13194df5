package cli

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"humansign/internal/chain"
	"humansign/internal/synth"
	"humansign/internal/verify"
)

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var (
		profileName string
		count       int
		seed        int64
		start       int64
		output      string
		list        bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic keystroke events file",
		Long: `Generate keydown/keyup events with human-like timing, in the format
"humansign seal --events" reads.

Examples:
  humansign simulate --list
  humansign simulate --profile fast-typist --count 500 -o keys.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, p := range synth.Profiles() {
					fmt.Fprintf(tw, "  %s\t%s\n", p.Name, p.Description)
				}
				return tw.Flush()
			}

			profile, err := synth.Lookup(profileName)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			if start == 0 {
				start = time.Now().UnixMilli()
			}

			events := synth.Generate(rand.New(rand.NewSource(seed)), profile, count, start)
			data, err := json.Marshal(map[string][]chain.Event{"events": events})
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err := fmt.Fprintln(out, string(data))
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0644); err != nil {
				return fmt.Errorf("write events: %w", err)
			}

			timings := verify.ExtractTimings(events)
			summary := map[string]any{
				"output":       output,
				"profile":      profile.Name,
				"seed":         seed,
				"events":       len(events),
				"duration_ms":  events[len(events)-1].Timestamp - events[0].Timestamp,
				"mean_hold_ms": mean(timings.Hold),
			}
			if opts.jsonOutput {
				return outputJSON(out, summary)
			}
			fmt.Fprintf(out, "Generated %d events (%s, seed %d) to %s\n", len(events), profile.Name, seed, output)
			fmt.Fprintf(out, "  Span:      %d ms\n", summary["duration_ms"])
			fmt.Fprintf(out, "  Mean hold: %.1f ms\n", summary["mean_hold_ms"])
			return nil
		},
	}
	cmd.Flags().StringVarP(&profileName, "profile", "p", "normal", "typing profile")
	cmd.Flags().IntVarP(&count, "count", "n", 100, "number of keystrokes (two events each)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses the clock)")
	cmd.Flags().Int64Var(&start, "start", 0, "first timestamp in ms since the epoch (0 uses now)")
	cmd.Flags().StringVarP(&output, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&list, "list", false, "list available profiles")
	return cmd
}

func mean(samples []int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		sum += s
	}
	return float64(sum) / float64(len(samples))
}
