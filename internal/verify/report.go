package verify

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strings"
	"text/template"
	"time"
)

// ReportFormat specifies the output format for verification reports.
type ReportFormat string

const (
	FormatJSON     ReportFormat = "json"
	FormatText     ReportFormat = "text"
	FormatMarkdown ReportFormat = "markdown"
	FormatHTML     ReportFormat = "html"
)

// ParseReportFormat validates a format name.
func ParseReportFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(strings.ToLower(s)); f {
	case FormatJSON, FormatText, FormatMarkdown, FormatHTML:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// ReportGenerator renders verification results.
type ReportGenerator struct {
	format  ReportFormat
	verbose bool
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(format ReportFormat) *ReportGenerator {
	return &ReportGenerator{format: format}
}

// WithVerbose enables full hashes and per-check messages.
func (g *ReportGenerator) WithVerbose(verbose bool) *ReportGenerator {
	g.verbose = verbose
	return g
}

// Generate produces a report in the configured format.
func (g *ReportGenerator) Generate(res *Result, w io.Writer) error {
	switch g.format {
	case FormatJSON:
		return g.generateJSON(res, w)
	case FormatText:
		return g.generateText(res, w)
	case FormatMarkdown:
		return g.generateMarkdown(res, w)
	case FormatHTML:
		return g.generateHTML(res, w)
	default:
		return fmt.Errorf("unknown format: %s", g.format)
	}
}

func (g *ReportGenerator) generateJSON(res *Result, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(res)
}

func (g *ReportGenerator) generateText(res *Result, w io.Writer) error {
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w, "                      HUMANSIGN VERIFICATION REPORT")
	fmt.Fprintln(w, "================================================================================")
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Verdict:         %s\n", res.Verdict)
	if res.KeyFingerprint != "" {
		fmt.Fprintf(w, "Key:             %s\n", res.KeyFingerprint)
	}
	fmt.Fprintf(w, "Duration:        %v\n", res.Duration.Round(time.Microsecond))
	fmt.Fprintln(w)

	if res.ParseError != nil {
		fmt.Fprintln(w, "--- Token ---")
		fmt.Fprintf(w, "Could not parse token: %s\n", res.ParseError.Kind)
		if g.verbose {
			fmt.Fprintf(w, "    Error: %s\n", res.ParseError.Message)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "--- Token ---")
		fmt.Fprintf(w, "Subject:         %s\n", res.Subject)
		fmt.Fprintf(w, "Session:         %d (rep %d)\n", res.SessionIndex, res.Rep)
		fmt.Fprintf(w, "Document Hash:   %s\n", g.truncateHash(res.DocumentHash))
		fmt.Fprintf(w, "Issued:          %s\n", res.IssuedAt.Format(time.RFC3339))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Checks ---")
	for _, c := range res.Checks {
		fmt.Fprintf(w, "[%s] %-12s", statusSymbol(c.Status), c.Name)
		if c.Message != "" && (g.verbose || c.Status != StatusFailed) {
			fmt.Fprintf(w, " %s", c.Message)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	if len(res.Failures) > 0 {
		fmt.Fprintln(w, "--- Failures ---")
		for _, f := range res.Failures {
			if f.Index >= 0 {
				fmt.Fprintf(w, "  * %s at block %d\n", f.Kind, f.Index)
			} else {
				fmt.Fprintf(w, "  * %s\n", f.Kind)
			}
			if g.verbose {
				fmt.Fprintf(w, "    %s\n", f.Message)
			}
		}
		fmt.Fprintln(w)
	}

	if s := res.Stats; s != nil {
		fmt.Fprintln(w, "--- Statistics ---")
		fmt.Fprintf(w, "Events:          %d (%d keydown)\n", s.EventCount, s.KeydownCount)
		fmt.Fprintf(w, "Blocks:          %d\n", s.BlockCount)
		fmt.Fprintf(w, "Typing Time:     %v\n", time.Duration(s.DurationMs)*time.Millisecond)
		fmt.Fprintf(w, "Speed:           %.1f keys/min (~%.0f WPM)\n", s.KeysPerMinute, s.EstimatedWPM)
		fmt.Fprintf(w, "Mean Hold:       %.1f ms\n", s.MeanHoldMs)
		fmt.Fprintf(w, "Mean Down-Down:  %.1f ms\n", s.MeanDownDownMs)
		fmt.Fprintf(w, "Mean Up-Down:    %.1f ms\n", s.MeanUpDownMs)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "================================================================================")
	return nil
}

const markdownTemplate = `# HumanSign Verification Report

| Property | Value |
|----------|-------|
| **Verdict** | {{.Verdict}} |
{{- if .KeyFingerprint}}
| **Key** | ` + "`{{.KeyFingerprint}}`" + ` |
{{- end}}
{{- if .Parsed}}
| Subject | {{.Subject}} |
| Session | {{.SessionIndex}} (rep {{.Rep}}) |
| Document Hash | ` + "`{{.DocumentHash}}`" + ` |
| Issued | {{.IssuedAt.Format "2006-01-02T15:04:05Z07:00"}} |
{{- end}}

## Checks

| Check | Status | Message |
|-------|--------|---------|
{{range .Checks}}| {{.Name}} | {{statusLabel .Status}} | {{.Message}} |
{{end}}
{{- if .Failures}}
## Failures

{{range .Failures}}- **{{.Kind}}**{{if ge .Index 0}} at block {{.Index}}{{end}}: {{.Message}}
{{end}}
{{- end}}
{{- with .Stats}}
## Statistics

- **Events:** {{.EventCount}} ({{.KeydownCount}} keydown)
- **Blocks:** {{.BlockCount}}
- **Duration:** {{.DurationMs}} ms
- **Speed:** {{printf "%.1f" .KeysPerMinute}} keys/min (~{{printf "%.0f" .EstimatedWPM}} WPM)
- **Mean hold / down-down / up-down:** {{printf "%.1f" .MeanHoldMs}} / {{printf "%.1f" .MeanDownDownMs}} / {{printf "%.1f" .MeanUpDownMs}} ms
{{- end}}
`

func (g *ReportGenerator) generateMarkdown(res *Result, w io.Writer) error {
	t, err := template.New("report").Funcs(template.FuncMap{"statusLabel": statusLabel}).Parse(markdownTemplate)
	if err != nil {
		return err
	}
	return t.Execute(w, res)
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>HumanSign Verification Report</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; }
        .genuine { color: #28a745; }
        .forged { color: #dc3545; }
        table { width: 100%; border-collapse: collapse; margin: 15px 0; }
        th, td { padding: 8px; text-align: left; border-bottom: 1px solid #ddd; }
        .status-passed { color: #28a745; }
        .status-failed { color: #dc3545; }
        .status-skipped { color: #6c757d; }
        code { background: #e9ecef; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>HumanSign Verification Report</h1>
    <h2>Verdict: <span class="{{if .Genuine}}genuine{{else}}forged{{end}}">{{.Verdict}}</span></h2>
    {{if .Parsed}}
    <table>
        <tr><th>Subject</th><td>{{.Subject}}</td></tr>
        <tr><th>Session</th><td>{{.SessionIndex}} (rep {{.Rep}})</td></tr>
        <tr><th>Document Hash</th><td><code>{{.DocumentHash}}</code></td></tr>
        <tr><th>Key</th><td><code>{{.KeyFingerprint}}</code></td></tr>
    </table>
    {{end}}
    <h2>Checks</h2>
    <table>
        {{range .Checks}}<tr><td>{{.Name}}</td><td class="status-{{.Status}}">{{.Status}}</td><td>{{.Message}}</td></tr>
        {{end}}
    </table>
    {{with .Stats}}
    <h2>Statistics</h2>
    <table>
        <tr><th>Events</th><td>{{.EventCount}}</td></tr>
        <tr><th>Blocks</th><td>{{.BlockCount}}</td></tr>
        <tr><th>Duration</th><td>{{.DurationMs}} ms</td></tr>
        <tr><th>Estimated WPM</th><td>{{printf "%.0f" .EstimatedWPM}}</td></tr>
    </table>
    {{end}}
</body>
</html>
`

func (g *ReportGenerator) generateHTML(res *Result, w io.Writer) error {
	t, err := htmltemplate.New("report").Parse(htmlTemplate)
	if err != nil {
		return err
	}
	return t.Execute(w, res)
}

func statusSymbol(s CheckStatus) string {
	switch s {
	case StatusPassed:
		return "OK"
	case StatusFailed:
		return "!!"
	case StatusSkipped:
		return "--"
	default:
		return "  "
	}
}

func statusLabel(s CheckStatus) string {
	switch s {
	case StatusPassed:
		return "PASS"
	case StatusFailed:
		return "FAIL"
	case StatusSkipped:
		return "SKIP"
	default:
		return "?"
	}
}

func (g *ReportGenerator) truncateHash(hash string) string {
	if len(hash) <= 16 || g.verbose {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-8:]
}

// Summary generates a one-line summary of the result.
func (r *Result) Summary() string {
	var sb strings.Builder
	sb.WriteString("[" + string(r.Verdict) + "]")

	if r.ParseError != nil {
		sb.WriteString(" unparseable token: " + string(r.ParseError.Kind))
		return sb.String()
	}
	if r.Stats != nil {
		fmt.Fprintf(&sb, " %d events in %d blocks", r.Stats.EventCount, r.Stats.BlockCount)
	}
	if r.ChainFailure != nil {
		fmt.Fprintf(&sb, ", %s at block %d", r.ChainFailure.Kind, r.ChainFailure.Index)
	}
	if !r.SignatureValid {
		sb.WriteString(", signature invalid")
	}
	if r.DocumentChecked && !r.DocumentMatch {
		sb.WriteString(", document mismatch")
	}
	return sb.String()
}

// FailedChecks returns the names of checks that failed.
func (r *Result) FailedChecks() []string {
	var failed []string
	for _, c := range r.Checks {
		if c.Status == StatusFailed {
			failed = append(failed, c.Name)
		}
	}
	return failed
}
