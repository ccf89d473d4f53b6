package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eflynch/usufruit/pkg/clierror"
)

func newLoanCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loan",
		Short: "Borrow and return books",
	}
	cmd.AddCommand(
		newLoanBorrowCmd(g),
		newLoanReturnCmd(g),
		newLoanListCmd(g),
		newLoanHistoryCmd(g),
	)
	return cmd
}

func newLoanBorrowCmd(g *globals) *cobra.Command {
	var borrower string
	cmd := &cobra.Command{
		Use:   "borrow <book-id>",
		Short: "Check a book out",
		Long: `Check a book out. The loan is due after the book's borrow duration.
--borrower checks the book out on behalf of another librarian of the library.

Examples:
  usufruitctl loan borrow bk_123
  usufruitctl loan borrow bk_123 --borrower lbr_456`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := g.client().Borrow(cmd.Context(), libID, args[0], borrower)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(loan); ok {
				return err
			}
			p.printf("%s Borrowed %s (loan %s)\n", okFmt("✓"), args[0], loan.ID)
			if loan.DueDate != nil {
				p.printf("  due %s (%s)\n", *loan.DueDate, whenPtr(loan.DueDate))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&borrower, "borrower", "", "Librarian ID to borrow for")
	return cmd
}

func newLoanReturnCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "return <book-id> [loan-id]",
		Short: "Return a borrowed book",
		Long: `Return a book. Without a loan ID the book's active loan is returned.
Any librarian of the library may return a loan.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireKey(); err != nil {
				return err
			}
			ctx := cmd.Context()
			libID, err := g.libraryID(ctx)
			if err != nil {
				return err
			}
			c := g.client()

			bookID := args[0]
			var loanID string
			if len(args) == 2 {
				loanID = args[1]
			} else {
				b, err := c.GetBook(ctx, libID, bookID)
				if err != nil {
					return err
				}
				if b.ActiveLoan == nil {
					return clierror.Conflict(fmt.Sprintf("book %s is not on loan", bookID))
				}
				loanID = b.ActiveLoan.ID
			}

			loan, err := c.Return(ctx, libID, bookID, loanID)
			if err != nil {
				return err
			}

			p := newPrinter(cmd, g)
			if ok, err := p.structured(loan); ok {
				return err
			}
			p.printf("%s Returned %s (loan %s)\n", okFmt("✓"), bookID, loan.ID)
			if loan.Overdue {
				p.warn("loan was returned after its due date")
			}
			return nil
		},
	}
}

func newLoanListCmd(g *globals) *cobra.Command {
	var active bool
	var borrower string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List loans across the library",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			loans, err := g.client().ListLoans(cmd.Context(), libID, active, borrower)
			if err != nil {
				return err
			}
			return printLoans(newPrinter(cmd, g), loans, true)
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "Only loans that are still out")
	cmd.Flags().StringVar(&borrower, "borrower", "", "Only loans of this librarian")
	return cmd
}

func newLoanHistoryCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "history <book-id>",
		Short: "Show a book's loan history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			libID, err := g.libraryID(cmd.Context())
			if err != nil {
				return err
			}
			loans, err := g.client().LoanHistory(cmd.Context(), libID, args[0])
			if err != nil {
				return err
			}
			return printLoans(newPrinter(cmd, g), loans, false)
		},
	}
}

func printLoans(p *printer, loans []Loan, withBook bool) error {
	if loans == nil {
		loans = []Loan{}
	}
	if ok, err := p.structured(map[string]any{"loans": loans}); ok {
		return err
	}
	if len(loans) == 0 {
		p.printf("No loans found.\n")
		return nil
	}

	w := p.table()
	if withBook {
		fmt.Fprintln(w, "LOAN\tBOOK\tBORROWER\tBORROWED\tDUE\tSTATUS")
	} else {
		fmt.Fprintln(w, "LOAN\tBORROWER\tBORROWED\tDUE\tSTATUS")
	}
	for i := range loans {
		l := &loans[i]
		if withBook {
			book := l.BookTitle
			if book == "" {
				book = l.BookID
			}
			fmt.Fprintf(w, "%s\t%s\t", l.ID, truncate(book, 32))
		} else {
			fmt.Fprintf(w, "%s\t", l.ID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.LibrarianID, when(l.BorrowedAt), whenPtr(l.DueDate), loanStatus(l))
	}
	return w.Flush()
}
