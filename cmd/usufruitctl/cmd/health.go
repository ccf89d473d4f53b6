package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/internal/version"
	"github.com/eflynch/usufruit/pkg/clierror"
)

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Long: `Check the server's health. Exits non-zero when the server is unreachable
or its database is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := g.client().Health(cmd.Context())
			if h == nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, perr := p.structured(h); ok {
				if perr != nil {
					return perr
				}
				return err
			}

			status := okFmt(h.Status)
			if err != nil {
				status = overdueFmt(h.Status)
			}
			p.field("Status", status)
			p.field("Server", g.server)
			p.field("Version", h.Version)
			p.field("Uptime", h.Uptime)
			p.field("Database", h.Database)
			p.field("Semantic", yesNo(h.SemanticSearch))
			if q := h.EmbeddingQueue; q != nil {
				p.field("Embed queue", fmt.Sprintf("%d pending, %d indexed, %d failed, %d dropped", q.Pending, q.Indexed, q.Failed, q.Dropped))
			}
			if !version.Compatible(version.String(), h.Version) {
				p.warn("usufruitctl %s may not work with server %s", version.String(), h.Version)
			}
			return err
		},
	}
}

// versionInfo is the structured output of the version command.
type versionInfo struct {
	Client      string `json:"client" yaml:"client"`
	Server      string `json:"server,omitempty" yaml:"server,omitempty"`
	Compatible  bool   `json:"compatible" yaml:"compatible"`
	ServerError string `json:"serverError,omitempty" yaml:"serverError,omitempty"`
}

func newVersionCmd(g *globals) *cobra.Command {
	var clientOnly bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and server versions",
		Long: `Show the usufruitctl version and, unless --client is given, the server
version. Fails when the two are not compatible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{Client: version.String(), Compatible: true}
			if !clientOnly {
				h, err := g.client().Health(cmd.Context())
				switch {
				case h != nil:
					info.Server = version.Normalize(h.Version)
					info.Compatible = version.Compatible(info.Client, info.Server)
				case err != nil:
					var ce *clierror.CLIError
					if errors.As(err, &ce) {
						info.ServerError = ce.Message
					} else {
						info.ServerError = err.Error()
					}
				}
			}

			p := newPrinter(cmd, g)
			ok, err := p.structured(info)
			if !ok {
				p.printf("usufruitctl %s\n", info.Client)
				switch {
				case info.Server != "":
					p.printf("usufruitd   %s\n", info.Server)
				case info.ServerError != "":
					p.printf("usufruitd   unknown (%s)\n", info.ServerError)
				}
				if info.Server != "" && info.Compatible && version.Newer(info.Client, info.Server) {
					p.warn("the server runs a newer release; consider upgrading usufruitctl")
				}
			}
			if err != nil {
				return err
			}
			if !info.Compatible {
				return clierror.VersionMismatch(info.Client, info.Server)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clientOnly, "client", false, "Only print the client version")
	return cmd
}
