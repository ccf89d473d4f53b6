// Package cmd implements the usufruitctl CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/internal/version"
	"github.com/eflynch/usufruit/pkg/clierror"
)

// Environment variables read for persistent flag defaults.
const (
	EnvServer  = "USUFRUIT_SERVER"
	EnvKey     = "USUFRUIT_KEY"
	EnvLibrary = "USUFRUIT_LIBRARY"
)

const defaultServer = "http://localhost:8080"

// globals holds the persistent flags shared by every command.
type globals struct {
	server  string
	key     string
	library string
	output  string
	timeout time.Duration
}

func (g *globals) client() *Client {
	return NewClient(g.server, g.key, g.timeout)
}

// requireKey fails commands that cannot work anonymously.
func (g *globals) requireKey() error {
	if g.key == "" {
		return clierror.MissingKey()
	}
	return nil
}

// libraryID returns --library, or the library of the librarian owning
// --key when the flag is unset.
func (g *globals) libraryID(ctx context.Context) (string, error) {
	if g.library != "" {
		return g.library, nil
	}
	if g.key == "" {
		return "", clierror.Validation("no library selected: pass --library or set " + EnvLibrary)
	}
	sess, err := g.client().Authenticate(ctx, g.key)
	if err != nil {
		return "", err
	}
	return sess.Library.ID, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// NewRootCmd builds the full command tree. Each call returns independent
// state, so tests can run commands in parallel.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "usufruitctl",
		Short: "📚 Community lending library CLI",
		Long: `usufruitctl manages usufruit lending libraries over the HTTP API.

Most commands act on one library: pass --library, set USUFRUIT_LIBRARY, or
let it default to the library of the librarian whose key is in use.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch g.output {
			case "table", "json", "yaml":
				return nil
			}
			return clierror.Validation(fmt.Sprintf("unknown output format %q (want table, json or yaml)", g.output))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr(EnvServer, defaultServer), "usufruitd base URL (env "+EnvServer+")")
	pf.StringVar(&g.key, "key", os.Getenv(EnvKey), "librarian secret key (env "+EnvKey+")")
	pf.StringVarP(&g.library, "library", "l", os.Getenv(EnvLibrary), "library ID (env "+EnvLibrary+")")
	pf.StringVarP(&g.output, "output", "o", "table", "Output format: table, json, yaml")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(
		newLibraryCmd(g),
		newLibrarianCmd(g),
		newBookCmd(g),
		newLoanCmd(g),
		newLoginCmd(g),
		newAuditCmd(g),
		newHealthCmd(g),
		newVersionCmd(g),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return clierror.ExitSuccess
	}

	format := "table"
	if f := root.PersistentFlags().Lookup("output"); f != nil {
		format = f.Value.String()
	}
	var ce *clierror.CLIError
	if !errors.As(err, &ce) {
		ce = &clierror.CLIError{Code: clierror.CodeInternalError, Message: err.Error(), ExitCode: clierror.ExitGeneral}
	}
	clierror.PrintError(stderr, ce, format)
	return ce.ExitCode
}
