package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/pkg/clierror"
)

func newLibrarianCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "librarian",
		Short: "Manage librarians of a library",
		Long: `Commands to add, list, promote, demote and remove librarians.

Secret keys are shown only to super librarians and to the librarian who
owns them.`,
	}
	cmd.AddCommand(
		newLibrarianCreateCmd(g),
		newLibrarianListCmd(g),
		newLibrarianShowCmd(g),
		newLibrarianSuperCmd(g, "promote", true),
		newLibrarianSuperCmd(g, "demote", false),
		newLibrarianUpdateCmd(g),
		newLibrarianDeleteCmd(g),
	)
	return cmd
}

func newLibrarianCreateCmd(g *globals) *cobra.Command {
	var contact string
	var super bool
	cmd := &cobra.Command{
		Use:     "create <name>",
		Aliases: []string{"add"},
		Short:   "Add a librarian",
		Long: `Add a librarian to the selected library. Anyone may register a regular
librarian, without a key; only super librarians may add super librarians.

Examples:
  usufruitctl librarian create "Grace" --contact grace@example.org -l lib_123
  usufruitctl librarian create "Linus" --contact 555-0100 --super`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			l, err := g.client().CreateLibrarian(cmd.Context(), libID, CreateLibrarianRequest{
				Name:        args[0],
				ContactInfo: contact,
				IsSuper:     super,
			})
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(l); ok {
				return err
			}
			kind := "librarian"
			if l.IsSuper {
				kind = "super librarian"
			}
			p.printf("%s Created %s '%s' (%s)\n", okFmt("✓"), kind, l.Name, l.ID)
			if l.SecretKey != "" {
				p.printf("\nSecret key: %s\n", l.SecretKey)
				p.warn("hand this key to %s over a private channel", l.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&contact, "contact", "c", "", "Contact info (email, phone)")
	cmd.Flags().BoolVar(&super, "super", false, "Create a super librarian")
	cmd.MarkFlagRequired("contact")
	return cmd
}

func newLibrarianListCmd(g *globals) *cobra.Command {
	var opts ListOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List librarians",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			page, err := g.client().ListLibrarians(cmd.Context(), libID, opts)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if page.Librarians == nil {
				page.Librarians = []Librarian{}
			}
			if ok, err := p.structured(page); ok {
				return err
			}
			if len(page.Librarians) == 0 {
				p.printf("No librarians found.\n")
				return nil
			}

			showKeys := false
			for _, l := range page.Librarians {
				if l.SecretKey != "" {
					showKeys = true
					break
				}
			}

			w := p.table()
			if showKeys {
				fmt.Fprintln(w, "ID\tNAME\tCONTACT\tSUPER\tSECRET KEY")
			} else {
				fmt.Fprintln(w, "ID\tNAME\tCONTACT\tSUPER")
			}
			for _, l := range page.Librarians {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s", l.ID, l.Name, truncate(l.ContactInfo, 30), yesNo(l.IsSuper))
				if showKeys {
					key := l.SecretKey
					if key == "" {
						key = "-"
					}
					fmt.Fprintf(w, "\t%s", key)
				}
				fmt.Fprintln(w)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			printPagination(p, page.Pagination)
			return nil
		},
	}
	addListFlags(cmd, &opts)
	cmd.Flags().StringVarP(&opts.Search, "search", "s", "", "Filter by name or contact info")
	return cmd
}

func newLibrarianShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "show <librarian-id>",
		Aliases: []string{"describe"},
		Short:   "Show a librarian",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			l, err := g.client().GetLibrarian(cmd.Context(), libID, args[0])
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(l); ok {
				return err
			}
			p.printf("%s\n", headFmt(l.Name))
			p.field("ID", l.ID)
			p.field("Contact", l.ContactInfo)
			p.field("Super", yesNo(l.IsSuper))
			p.field("Created", when(l.CreatedAt))
			if l.SecretKey != "" {
				p.field("Secret key", l.SecretKey)
			}
			return nil
		},
	}
}

func newLibrarianSuperCmd(g *globals, verb string, isSuper bool) *cobra.Command {
	short := "Grant super librarian status"
	if !isSuper {
		short = "Revoke super librarian status"
	}
	return &cobra.Command{
		Use:   verb + " <librarian-id>",
		Short: short + " (super librarians only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			l, err := g.client().UpdateLibrarian(cmd.Context(), libID, args[0], map[string]any{"isSuper": isSuper})
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(l); ok {
				return err
			}
			if isSuper {
				p.printf("%s '%s' is now a super librarian\n", okFmt("✓"), l.Name)
			} else {
				p.printf("%s '%s' is no longer a super librarian\n", okFmt("✓"), l.Name)
			}
			return nil
		},
	}
}

func newLibrarianUpdateCmd(g *globals) *cobra.Command {
	var name, contact string
	cmd := &cobra.Command{
		Use:   "update <librarian-id>",
		Short: "Change a librarian's name or contact info",
		Long: `Change a librarian's name or contact info. Librarians may edit their own
details; super librarians may edit anyone's.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			fields := map[string]any{}
			if cmd.Flags().Changed("name") {
				fields["name"] = name
			}
			if cmd.Flags().Changed("contact") {
				fields["contactInfo"] = contact
			}
			if len(fields) == 0 {
				return clierror.Validation("nothing to update: pass --name or --contact")
			}

			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			l, err := g.client().UpdateLibrarian(cmd.Context(), libID, args[0], fields)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(l); ok {
				return err
			}
			p.printf("%s Updated librarian '%s'\n", okFmt("✓"), l.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVarP(&contact, "contact", "c", "", "New contact info")
	return cmd
}

func newLibrarianDeleteCmd(g *globals) *cobra.Command {
	var req DeleteLibrarianRequest
	cmd := &cobra.Command{
		Use:     "delete <librarian-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a librarian (super librarians only)",
		Long: `Remove a librarian. A librarian who owns books needs a disposition:
--reassign-to moves their books and loans to another librarian, --cascade
deletes their books together with those books' loans.

Examples:
  usufruitctl librarian delete lbr_123
  usufruitctl librarian delete lbr_123 --reassign-to lbr_456
  usufruitctl librarian delete lbr_123 --cascade`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			if req.ReassignBooksTo != "" && req.DeleteBooksAndLoans {
				return clierror.Validation("--reassign-to and --cascade are mutually exclusive")
			}
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			res, err := g.client().DeleteLibrarian(cmd.Context(), libID, args[0], req)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(res); ok {
				return err
			}
			p.printf("%s Removed librarian %s\n", okFmt("✓"), args[0])
			switch {
			case res.BooksReassigned > 0 || res.LoansReassigned > 0:
				p.printf("  reassigned %d books and %d loans to %s\n", res.BooksReassigned, res.LoansReassigned, req.ReassignBooksTo)
			case res.BooksDeleted > 0 || res.LoansDeleted > 0:
				p.printf("  deleted %d books and %d loans\n", res.BooksDeleted, res.LoansDeleted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.ReassignBooksTo, "reassign-to", "", "Librarian who takes over books and loans")
	cmd.Flags().BoolVar(&req.DeleteBooksAndLoans, "cascade", false, "Delete the librarian's books and their loans")
	return cmd
}

func addListFlags(cmd *cobra.Command, opts *ListOptions) {
	cmd.Flags().IntVar(&opts.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "Results per page (max 100)")
}

func printPagination(p *printer, pg Pagination) {
	if pg.TotalPages > 1 {
		p.printf("\nPage %d of %d (%d total)\n", pg.CurrentPage, pg.TotalPages, pg.TotalCount)
	}
}
