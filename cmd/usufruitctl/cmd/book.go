package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/pkg/clierror"
)

const defaultBorrowDays = 14

// bookFlags are the optional text fields shared by add and update.
type bookFlags struct {
	author, description, rules, checkIn, checkOut string
	days                                          int
	owner                                         string
}

var bookFlagFields = []struct{ flag, field string }{
	{"author", "author"},
	{"description", "description"},
	{"rules", "organizingRules"},
	{"check-in", "checkInInstructions"},
	{"check-out", "checkOutInstructions"},
	{"owner", "librarianId"},
}

func (f *bookFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.author, "author", "a", "", "Author")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "Description")
	cmd.Flags().StringVar(&f.rules, "rules", "", "Organizing rules")
	cmd.Flags().StringVar(&f.checkIn, "check-in", "", "Check-in instructions")
	cmd.Flags().StringVar(&f.checkOut, "check-out", "", "Check-out instructions")
	cmd.Flags().IntVar(&f.days, "days", defaultBorrowDays, "Borrow duration in days")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Owning librarian ID")
}

func (f *bookFlags) value(flag string) string {
	switch flag {
	case "author":
		return f.author
	case "description":
		return f.description
	case "rules":
		return f.rules
	case "check-in":
		return f.checkIn
	case "check-out":
		return f.checkOut
	case "owner":
		return f.owner
	}
	return ""
}

// changed returns the JSON fields for the flags given on the command line.
func (f *bookFlags) changed(cmd *cobra.Command) map[string]any {
	fields := map[string]any{}
	for _, bf := range bookFlagFields {
		if cmd.Flags().Changed(bf.flag) {
			fields[bf.field] = f.value(bf.flag)
		}
	}
	if cmd.Flags().Changed("days") {
		fields["borrowDurationDays"] = f.days
	}
	return fields
}

// self resolves the librarian that owns --key.
func (g *globals) self(ctx context.Context) (*Session, error) {
	if err := g.requireKey(); err != nil {
		return nil, err
	}
	return g.client().Authenticate(ctx, g.key)
}

func newBookCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Manage the books of a library",
		Long: `Add, list, search, update and remove books. "Books" may be anything a
library lends: tools, seeds, games.`,
	}
	cmd.AddCommand(
		newBookAddCmd(g),
		newBookListCmd(g),
		newBookSearchCmd(g),
		newBookShowCmd(g),
		newBookUpdateCmd(g),
		newBookDeleteCmd(g),
	)
	return cmd
}

func newBookAddCmd(g *globals) *cobra.Command {
	var f bookFlags
	cmd := &cobra.Command{
		Use:     "add <title>",
		Aliases: []string{"create"},
		Short:   "Add a book",
		Long: `Add a book to the selected library. The book is owned by the librarian
whose key is in use unless --owner names another librarian (super
librarians only).

Examples:
  usufruitctl book add "Cordless Drill" -d "18V, two batteries" --days 7
  usufruitctl book add "Dune" --author "Frank Herbert" --owner lbr_123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := g.self(ctx)
			if err != nil {
				return err
			}
			libID := g.library
			if libID == "" {
				libID = sess.Library.ID
			}

			fields := f.changed(cmd)
			fields["title"] = args[0]
			fields["borrowDurationDays"] = f.days
			if _, ok := fields["librarianId"]; !ok {
				fields["librarianId"] = sess.Librarian.ID
			}

			b, err := g.client().CreateBook(ctx, libID, fields)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(b); ok {
				return err
			}
			p.printf("%s Added '%s' (%s), lent for %d days\n", okFmt("✓"), b.Title, b.ID, b.BorrowDurationDays)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newBookListCmd(g *globals) *cobra.Command {
	var opts ListOptions
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List books",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBooks(cmd, g, opts)
		},
	}
	addListFlags(cmd, &opts)
	cmd.Flags().StringVarP(&opts.Search, "search", "s", "", "Search title, author and description")
	return cmd
}

func newBookSearchCmd(g *globals) *cobra.Command {
	var opts ListOptions
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search books by text and meaning",
		Long: `Search books. Text matches come first; when semantic search is enabled on
the server, books with a similar meaning follow.

Examples:
  usufruitctl book search "power tools"
  usufruitctl book search ladder --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Search = args[0]
			return listBooks(cmd, g, opts)
		},
	}
	addListFlags(cmd, &opts)
	return cmd
}

func listBooks(cmd *cobra.Command, g *globals, opts ListOptions) error {
	libID, err := g.libraryID(cmd.Context())
	if err != nil {
		return err
	}
	page, err := g.client().ListBooks(cmd.Context(), libID, opts)
	if err != nil {
		return err
	}

	p := newPrinter(cmd, g)
	if page.Books == nil {
		page.Books = []Book{}
	}
	if ok, err := p.structured(page); ok {
		return err
	}
	if len(page.Books) == 0 {
		if opts.Search != "" {
			p.printf("No books match %q.\n", opts.Search)
		} else {
			p.printf("No books found. Use 'usufruitctl book add' to add one.\n")
		}
		return nil
	}

	semantic := page.Semantic != nil && page.Semantic.Added > 0
	w := p.table()
	if semantic {
		fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tSTATUS\tMATCH")
	} else {
		fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tSTATUS")
	}
	for i := range page.Books {
		b := &page.Books[i]
		status := "available"
		if b.ActiveLoan != nil {
			status = loanStatus(b.ActiveLoan)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s", b.ID, truncate(b.Title, 40), truncate(deref(b.Author), 24), status)
		if semantic {
			match := b.Source
			if b.Source == "semantic" {
				match = fmt.Sprintf("semantic %.2f", b.Score)
			}
			fmt.Fprintf(w, "\t%s", match)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	printPagination(p, page.Pagination)
	return nil
}

func newBookShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "show <book-id>",
		Aliases: []string{"describe"},
		Short:   "Show a book and its current loan",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			b, err := g.client().GetBook(cmd.Context(), libID, args[0])
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(b); ok {
				return err
			}
			p.printf("%s\n", headFmt(b.Title))
			p.field("ID", b.ID)
			p.field("Author", deref(b.Author))
			p.field("Description", deref(b.Description))
			p.field("Owner", b.LibrarianID)
			p.field("Lent for", fmt.Sprintf("%d days", b.BorrowDurationDays))
			p.field("Rules", deref(b.OrganizingRules))
			p.field("Check-out", deref(b.CheckOutInstructions))
			p.field("Check-in", deref(b.CheckInInstructions))
			if l := b.ActiveLoan; l != nil {
				p.field("Status", loanStatus(l))
				p.field("Borrower", l.LibrarianID)
				p.field("Borrowed", when(l.BorrowedAt))
				p.field("Due", whenPtr(l.DueDate))
			} else {
				p.field("Status", "available")
			}
			return nil
		},
	}
}

func newBookUpdateCmd(g *globals) *cobra.Command {
	var f bookFlags
	var title string
	cmd := &cobra.Command{
		Use:   "update <book-id>",
		Short: "Change a book (owner or super librarian)",
		Long: `Change a book. Only flags that are given are changed; an empty value
clears an optional field.

Examples:
  usufruitctl book update bk_123 --days 21
  usufruitctl book update bk_123 --author ""`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			fields := f.changed(cmd)
			if cmd.Flags().Changed("title") {
				fields["title"] = title
			}
			if len(fields) == 0 {
				return clierror.Validation("nothing to update: pass at least one field flag")
			}

			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			b, err := g.client().UpdateBook(cmd.Context(), libID, args[0], fields)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(b); ok {
				return err
			}
			p.printf("%s Updated '%s'\n", okFmt("✓"), b.Title)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&title, "title", "", "New title")
	return cmd
}

func newBookDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <book-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a book and its loan history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			if err := g.client().DeleteBook(cmd.Context(), libID, args[0]); err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(map[string]any{"deleted": true, "id": args[0]}); ok {
				return err
			}
			p.printf("%s Deleted book %s\n", okFmt("✓"), args[0])
			return nil
		},
	}
}
