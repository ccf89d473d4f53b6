package cmd

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/clierror"
)

func newLoginCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check a secret key and show who it belongs to",
		Long: `Check the secret key given with --key (or USUFRUIT_KEY). With --library
the key must belong to a librarian of that library.

The key itself is never printed.

Examples:
  USUFRUIT_KEY=... usufruitctl login
  usufruitctl login --key ... -l lib_123`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			c := g.client()
			var (
				sess *Session
				err  error
			)
			if g.library != "" {
				sess, err = c.Login(cmd.Context(), g.library, g.key)
			} else {
				sess, err = c.Authenticate(cmd.Context(), g.key)
			}
			if err != nil {
				return err
			}
			sess.Librarian.SecretKey = ""

			p := newPrinter(cmd, g)
			if ok, err := p.structured(sess); ok {
				return err
			}
			role := "librarian"
			if sess.Librarian.IsSuper {
				role = "super librarian"
			}
			p.printf("%s Logged in as %s (%s), %s of '%s'\n",
				okFmt("✓"), sess.Librarian.Name, sess.Librarian.ID, role, sess.Library.Name)
			if g.library == "" {
				p.printf("\nTo skip the lookup on later commands:\n  export %s=%s\n", EnvLibrary, sess.Library.ID)
			}
			return nil
		},
	}
}

func newAuditCmd(g *globals) *cobra.Command {
	var opts AuditOptions
	var since string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the library's audit trail (super librarians only)",
		Long: `Show audit trail entries, newest first. --since takes an RFC 3339
timestamp or a duration such as 24h.

Examples:
  usufruitctl audit --limit 20
  usufruitctl audit --type authz.denied --since 24h
  usufruitctl audit --actor lbr_123 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			if opts.EventType != "" && !slices.Contains(audit.AllEventTypes(), audit.EventType(opts.EventType)) {
				return clierror.Validation(fmt.Sprintf("unknown event type %q (one of %s)", opts.EventType, eventTypeList()))
			}
			if since != "" {
				ts, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				opts.Since = ts
			}

			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := g.client().Audit(cmd.Context(), libID, opts)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if entries == nil {
				entries = []AuditEntry{}
			}
			if ok, err := p.structured(map[string]any{"entries": entries}); ok {
				return err
			}
			if len(entries) == 0 {
				p.printf("No audit entries found.\n")
				return nil
			}

			w := p.table()
			fmt.Fprintln(w, "TIME\tEVENT\tSEVERITY\tACTOR\tTARGET\tDETAILS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					when(e.Timestamp), e.EventType, e.Severity, dash(e.ActorID), dash(e.TargetID), formatDetails(e.Details))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.EventType, "type", "", "Only this event type")
	cmd.Flags().StringVar(&opts.ActorID, "actor", "", "Only events by this librarian")
	cmd.Flags().StringVar(&since, "since", "", "Only events at or after this time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of entries")
	return cmd
}

// parseSince accepts an RFC 3339 timestamp or a duration before now.
func parseSince(s string, now time.Time) (string, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return "", clierror.Validation(fmt.Sprintf("invalid --since %q: want RFC 3339 time or a positive duration", s))
	}
	return now.Add(-d).UTC().Format(time.RFC3339), nil
}

func eventTypeList() string {
	types := audit.AllEventTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func formatDetails(d map[string]string) string {
	if len(d) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + d[k]
	}
	return truncate(strings.Join(parts, " "), 60)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
