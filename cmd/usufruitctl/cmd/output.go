package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eflynch/usufruit/pkg/timeutil"
)

var (
	okFmt      = color.New(color.FgGreen).SprintFunc()
	warnFmt    = color.New(color.FgYellow).SprintFunc()
	overdueFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	headFmt    = color.New(color.Bold).SprintFunc()
)

// printer renders command results in the selected output format.
type printer struct {
	out    io.Writer
	errOut io.Writer
	format string
}

func newPrinter(cmd *cobra.Command, g *globals) *printer {
	return &printer{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), format: g.output}
}

// structured emits v as JSON or YAML and reports true, or reports false
// for table output so the caller can draw its own table.
func (p *printer) structured(v any) (bool, error) {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		_, err = p.out.Write(data)
		return true, err
	}
	return false, nil
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// warn writes a highlighted notice to stderr so it never mixes with
// structured output.
func (p *printer) warn(format string, args ...any) {
	fmt.Fprintln(p.errOut, warnFmt("Warning: ")+fmt.Sprintf(format, args...))
}

// field prints an aligned "Label: value" line.
func (p *printer) field(label string, value any) {
	fmt.Fprintf(p.out, "%-14s %v\n", label+":", value)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// when renders an RFC 3339 timestamp relative to now.
func when(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return timeutil.Relative(t)
}

func whenPtr(ts *string) string {
	if ts == nil {
		return "-"
	}
	return when(*ts)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// loanStatus describes a loan for tables; overdue loans are highlighted.
func loanStatus(l *Loan) string {
	switch {
	case l.ReturnedAt != nil:
		return "returned"
	case l.Overdue:
		return overdueFmt("OVERDUE")
	default:
		return "on loan"
	}
}
