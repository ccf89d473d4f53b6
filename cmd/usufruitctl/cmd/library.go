package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/pkg/clierror"
)

func newLibraryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "library",
		Aliases: []string{"lib"},
		Short:   "Manage libraries",
	}
	cmd.AddCommand(
		newLibraryCreateCmd(g),
		newLibraryListCmd(g),
		newLibraryShowCmd(g),
		newLibraryUpdateCmd(g),
	)
	return cmd
}

func newLibraryCreateCmd(g *globals) *cobra.Command {
	var description, location, firstName, firstContact string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a library",
		Long: `Create a library. With --first-librarian the library is created together
with a super librarian whose secret key is printed once.

Examples:
  usufruitctl library create "Elm Street Tool Library" --first-librarian Ada --contact ada@example.org
  usufruitctl library create "Seed Library" -d "Heirloom seeds" --location "Branch 2"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := CreateLibraryRequest{Name: args[0]}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}
			if cmd.Flags().Changed("location") {
				req.Location = &location
			}
			if firstName != "" {
				req.FirstLibrarian = &FirstLibrarianRequest{Name: firstName, ContactInfo: firstContact}
			} else if firstContact != "" {
				return clierror.Validation("--contact requires --first-librarian")
			}

			created, err := g.client().CreateLibrary(cmd.Context(), req)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(created); ok {
				return err
			}
			p.printf("%s Created library '%s' (%s)\n", okFmt("✓"), created.Library.Name, created.Library.ID)
			if l := created.FirstLibrarian; l != nil {
				p.printf("%s Created super librarian '%s' (%s)\n", okFmt("✓"), l.Name, l.ID)
				p.printf("\nSecret key: %s\n", l.SecretKey)
				p.warn("store this key now; use it with --key or %s", EnvKey)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Library description")
	cmd.Flags().StringVar(&location, "location", "", "Library location")
	cmd.Flags().StringVar(&firstName, "first-librarian", "", "Name of the first (super) librarian")
	cmd.Flags().StringVar(&firstContact, "contact", "", "Contact info of the first librarian")
	return cmd
}

func newLibraryListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all libraries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			libs, err := g.client().ListLibraries(cmd.Context())
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if libs == nil {
				libs = []Library{}
			}
			if ok, err := p.structured(libs); ok {
				return err
			}
			if len(libs) == 0 {
				p.printf("No libraries found. Use 'usufruitctl library create' to create one.\n")
				return nil
			}

			w := p.table()
			fmt.Fprintln(w, "ID\tNAME\tLOCATION\tDESCRIPTION")
			for _, l := range libs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.ID, l.Name, deref(l.Location), truncate(deref(l.Description), 40))
			}
			return w.Flush()
		},
	}
}

func newLibraryShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "show [library-id]",
		Aliases: []string{"describe"},
		Short:   "Show library details and stats",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				var err error
				if id, err = g.libraryID(cmd.Context()); err != nil {
					return err
				}
			}

			lib, err := g.client().GetLibrary(cmd.Context(), id)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(lib); ok {
				return err
			}
			p.printf("%s\n", headFmt(lib.Name))
			p.field("ID", lib.ID)
			p.field("Location", deref(lib.Location))
			p.field("Description", deref(lib.Description))
			p.field("Created", when(lib.CreatedAt))
			if s := lib.Stats; s != nil {
				p.field("Librarians", s.Librarians)
				p.field("Books", s.Books)
				p.field("Active loans", s.ActiveLoans)
			}
			return nil
		},
	}
}

func newLibraryUpdateCmd(g *globals) *cobra.Command {
	var name, description, location string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the selected library (super librarians only)",
		Long: `Update the name, description or location of the selected library.
Only flags that are given are changed.

Examples:
  usufruitctl library update --name "Elm St. Tools"
  usufruitctl library update -l lib_123 --location ""`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			fields := map[string]any{}
			if cmd.Flags().Changed("name") {
				fields["name"] = name
			}
			if cmd.Flags().Changed("description") {
				fields["description"] = description
			}
			if cmd.Flags().Changed("location") {
				fields["location"] = location
			}
			if len(fields) == 0 {
				return clierror.Validation("nothing to update: pass --name, --description or --location")
			}

			id, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			lib, err := g.client().UpdateLibrary(cmd.Context(), id, fields)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(lib); ok {
				return err
			}
			p.printf("%s Updated library '%s'\n", okFmt("✓"), lib.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVar(&location, "location", "", "New location")
	return cmd
}
