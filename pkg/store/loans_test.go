package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowAndReturn(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	lib, super, regular := seedLibrary(t, s, "Circulation")
	b := seedBook(t, s, lib, super, "Pressure Washer")

	due := time.Date(2030, 1, 15, 10, 0, 0, 0, time.UTC)
	loan := &Loan{BookID: b.ID, LibrarianID: regular.ID, DueDate: &due}
	require.NoError(t, s.BorrowBook(ctx, loan))
	assert.NotEmpty(t, loan.ID)

	got, err := s.GetBook(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActiveLoan)
	assert.Equal(t, loan.ID, got.ActiveLoan.ID)
	assert.True(t, due.Equal(*got.ActiveLoan.DueDate))

	t.Log("Testing: second borrow while open is rejected")
	err = s.BorrowBook(ctx, &Loan{BookID: b.ID, LibrarianID: super.ID})
	assert.ErrorIs(t, err, ErrBookOnLoan)

	returnedAt := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	returned, err := s.ReturnLoan(ctx, loan.ID, returnedAt)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedAt)
	assert.True(t, returnedAt.Equal(*returned.ReturnedAt))

	t.Log("Testing: double return conflicts and keeps the first return time")
	_, err = s.ReturnLoan(ctx, loan.ID, returnedAt.Add(time.Hour))
	assert.ErrorIs(t, err, ErrLoanReturned)
	stored, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, returnedAt.Equal(*stored.ReturnedAt))

	t.Log("Testing: book can be borrowed again after return")
	require.NoError(t, s.BorrowBook(ctx, &Loan{BookID: b.ID, LibrarianID: super.ID}))

	history, err := s.ListLoansByBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestBorrowValidatesParticipants(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	lib, super, _ := seedLibrary(t, s, "Here")
	_, otherSuper, _ := seedLibrary(t, s, "There")
	b := seedBook(t, s, lib, super, "Ladder")

	assert.ErrorIs(t, s.BorrowBook(ctx, &Loan{BookID: "bk_missing", LibrarianID: super.ID}), ErrBookNotFound)
	assert.ErrorIs(t, s.BorrowBook(ctx, &Loan{BookID: b.ID, LibrarianID: "lbr_missing"}), ErrLibrarianNotFound)
	assert.ErrorIs(t, s.BorrowBook(ctx, &Loan{BookID: b.ID, LibrarianID: otherSuper.ID}), ErrLibrarianNotFound)

	_, err := s.ReturnLoan(ctx, "ln_missing", time.Now())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestConcurrentBorrowExactlyOneWins(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	lib, super, _ := seedLibrary(t, s, "Race")
	b := seedBook(t, s, lib, super, "Chainsaw")

	const borrowers = 8
	ids := make([]string, borrowers)
	for i := range ids {
		l := &Librarian{Name: "racer", ContactInfo: "r", SecretKey: NewID("sk_"), LibraryID: lib.ID}
		require.NoError(t, s.CreateLibrarian(ctx, l))
		ids[i] = l.ID
	}

	t.Logf("Testing: %d concurrent borrows of one book", borrowers)
	var wg sync.WaitGroup
	errs := make([]error, borrowers)
	start := make(chan struct{})
	for i := 0; i < borrowers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = s.BorrowBook(ctx, &Loan{BookID: b.ID, LibrarianID: ids[i]})
		}(i)
	}
	close(start)
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrBookOnLoan):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, borrowers-1, conflicts)

	active, err := s.ListLoansByLibrary(ctx, lib.ID, LoanFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPartialUniqueIndexOnOpenLoans(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	lib, super, _ := seedLibrary(t, s, "Index")
	b := seedBook(t, s, lib, super, "Generator")

	t.Log("Testing: schema rejects a second open loan even without the store's check")
	insert := `INSERT INTO loans (id, book_id, librarian_id, borrowed_at, created_at, updated_at) VALUES (?, ?, ?, 0, 0, 0)`
	_, err := s.DB().Exec(insert, "ln_a", b.ID, super.ID)
	require.NoError(t, err)
	_, err = s.DB().Exec(insert, "ln_b", b.ID, super.ID)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestListLoansByLibrary(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	lib, super, regular := seedLibrary(t, s, "Listing")
	b1 := seedBook(t, s, lib, super, "Drill")
	b2 := seedBook(t, s, lib, super, "Sander")

	l1 := &Loan{BookID: b1.ID, LibrarianID: regular.ID}
	require.NoError(t, s.BorrowBook(ctx, l1))
	_, err := s.ReturnLoan(ctx, l1.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.BorrowBook(ctx, &Loan{BookID: b2.ID, LibrarianID: super.ID}))

	all, err := s.ListLoansByLibrary(ctx, lib.ID, LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListLoansByLibrary(ctx, lib.ID, LoanFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Sander", active[0].BookTitle)

	mine, err := s.ListLoansByLibrary(ctx, lib.ID, LoanFilter{LibrarianID: regular.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, l1.ID, mine[0].ID)
}
