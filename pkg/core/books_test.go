package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/search"
)

func strPtr(s string) *string { return &s }

func TestCreateBook(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")
	other, _ := env.seedLibrary(t, "Other")
	outsider := env.join(t, other.ID, "outsider")

	t.Log("Testing: a librarian adds a book they own, defaulting the owner to themselves")
	b, err := env.svc.CreateBook(ctx, IdentityOf(alice), lib.ID, CreateBookInput{
		Title:              "  Table Saw ",
		Author:             strPtr("  "),
		BorrowDurationDays: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Table Saw", b.Title)
	assert.Nil(t, b.Author)
	assert.Equal(t, alice.ID, b.LibrarianID)
	assert.Equal(t, []string{b.ID}, env.queue.enqueued())

	tests := []struct {
		name string
		in   CreateBookInput
		kind apperr.Kind
	}{
		{"empty title", CreateBookInput{Title: " ", BorrowDurationDays: 7}, apperr.KindValidation},
		{"zero borrow duration", CreateBookInput{Title: "Saw", BorrowDurationDays: 0}, apperr.KindValidation},
		{"owner in another library", CreateBookInput{Title: "Saw", BorrowDurationDays: 7, LibrarianID: outsider.ID}, apperr.KindNotFound},
		{"owner is someone else", CreateBookInput{Title: "Saw", BorrowDurationDays: 7, LibrarianID: bob.ID}, apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Logf("Testing: %s", tt.name)
		_, err := env.svc.CreateBook(ctx, IdentityOf(alice), lib.ID, tt.in)
		assertKind(t, err, tt.kind)
	}

	t.Log("Testing: a super librarian adds a book for another librarian")
	b, err = env.svc.CreateBook(ctx, IdentityOf(super), lib.ID, CreateBookInput{
		Title: "Ladder", BorrowDurationDays: 3, LibrarianID: bob.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, bob.ID, b.LibrarianID)

	t.Log("Testing: anonymous callers cannot add books")
	_, err = env.svc.CreateBook(ctx, nil, lib.ID, CreateBookInput{Title: "Saw", BorrowDurationDays: 7, LibrarianID: bob.ID})
	assertKind(t, err, apperr.KindUnauthorized)

	t.Log("Testing: anonymous callers without an owner are unauthorized, not invalid")
	_, err = env.svc.CreateBook(ctx, nil, lib.ID, CreateBookInput{Title: "Saw", BorrowDurationDays: 7})
	assertKind(t, err, apperr.KindUnauthorized)
	_, err = env.svc.CreateBook(ctx, nil, lib.ID, CreateBookInput{})
	assertKind(t, err, apperr.KindUnauthorized)
}

func TestUpdateBook(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")
	other, _ := env.seedLibrary(t, "Other")
	outsider := env.join(t, other.ID, "outsider")
	b := env.addBook(t, alice, "Drill")
	queued := len(env.queue.enqueued())

	t.Log("Testing: the owner edits text and the book is re-queued for embedding")
	got, err := env.svc.UpdateBook(ctx, IdentityOf(alice), lib.ID, b.ID, UpdateBookInput{Description: strPtr("18V cordless")})
	require.NoError(t, err)
	require.NotNil(t, got.Description)
	assert.Equal(t, "18V cordless", *got.Description)
	assert.Len(t, env.queue.enqueued(), queued+1)

	t.Log("Testing: non-text changes do not re-queue")
	days := 21
	_, err = env.svc.UpdateBook(ctx, IdentityOf(alice), lib.ID, b.ID, UpdateBookInput{BorrowDurationDays: &days})
	require.NoError(t, err)
	assert.Len(t, env.queue.enqueued(), queued+1)

	t.Log("Testing: another regular librarian cannot edit the book")
	_, err = env.svc.UpdateBook(ctx, IdentityOf(bob), lib.ID, b.ID, UpdateBookInput{Title: strPtr("Mine now")})
	assertKind(t, err, apperr.KindForbidden)

	t.Log("Testing: reassignment to another library's librarian is NotFound")
	_, err = env.svc.UpdateBook(ctx, IdentityOf(super), lib.ID, b.ID, UpdateBookInput{LibrarianID: strPtr(outsider.ID)})
	assertKind(t, err, apperr.KindNotFound)

	t.Log("Testing: the owner hands the book to another librarian")
	got, err = env.svc.UpdateBook(ctx, IdentityOf(alice), lib.ID, b.ID, UpdateBookInput{LibrarianID: strPtr(bob.ID)})
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.LibrarianID)

	t.Log("Testing: invalid values are rejected")
	zero := 0
	_, err = env.svc.UpdateBook(ctx, IdentityOf(bob), lib.ID, b.ID, UpdateBookInput{BorrowDurationDays: &zero})
	assertKind(t, err, apperr.KindValidation)
	_, err = env.svc.UpdateBook(ctx, IdentityOf(bob), lib.ID, b.ID, UpdateBookInput{Title: strPtr("")})
	assertKind(t, err, apperr.KindValidation)

	t.Log("Testing: a book addressed under another library is NotFound")
	_, err = env.svc.UpdateBook(ctx, IdentityOf(bob), other.ID, b.ID, UpdateBookInput{Title: strPtr("x")})
	assertKind(t, err, apperr.KindNotFound)
}

func TestDeleteBook(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, _ := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")
	b := env.addBook(t, alice, "Drill")

	loan, err := env.svc.BorrowBook(ctx, IdentityOf(bob), lib.ID, b.ID, BorrowInput{})
	require.NoError(t, err)

	t.Log("Testing: a book on loan cannot be deleted")
	err = env.svc.DeleteBook(ctx, IdentityOf(alice), lib.ID, b.ID)
	assertKind(t, err, apperr.KindConflict)

	_, err = env.svc.ReturnLoan(ctx, IdentityOf(bob), lib.ID, b.ID, loan.ID)
	require.NoError(t, err)

	t.Log("Testing: only the owner or a super librarian deletes")
	err = env.svc.DeleteBook(ctx, IdentityOf(bob), lib.ID, b.ID)
	assertKind(t, err, apperr.KindForbidden)

	require.NoError(t, env.svc.DeleteBook(ctx, IdentityOf(alice), lib.ID, b.ID))
	_, err = env.svc.GetBook(ctx, nil, lib.ID, b.ID)
	assertKind(t, err, apperr.KindNotFound)
}

func TestListBooks(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Makerspace")
	env.addBook(t, super, "Arduino Projects")
	env.addBook(t, super, "Bike Repair Manual")
	env.addBook(t, super, "Cast Iron Skillet")

	t.Log("Testing: listing without a query pages by title")
	res, err := env.svc.ListBooks(ctx, nil, lib.ID, ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "Arduino Projects", res.Hits[0].Book.Title)
	assert.Equal(t, 3, res.Pagination.TotalCount)
	assert.Nil(t, res.Semantic)

	t.Log("Testing: a lexical query ranks its match first")
	res, err = env.svc.ListBooks(ctx, nil, lib.ID, ListParams{Search: "arduino"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "Arduino Projects", res.Hits[0].Book.Title)
	assert.Equal(t, search.SourceLexical, res.Hits[0].Source)
	for _, h := range res.Hits[1:] {
		assert.Equal(t, search.SourceSemantic, h.Source)
	}

	t.Log("Testing: listing a missing library is NotFound")
	_, err = env.svc.ListBooks(ctx, nil, "lib_missing", ListParams{})
	assertKind(t, err, apperr.KindNotFound)
}
