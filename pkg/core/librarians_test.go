package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/store"
)

func visibleSecrets(list []*store.Librarian) int {
	n := 0
	for _, l := range list {
		if l.SecretKey != "" {
			n++
		}
	}
	return n
}

func TestListLibrarians_Redaction(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	env.join(t, lib.ID, "bob")

	t.Log("Testing: anonymous callers see no secrets")
	page, err := env.svc.ListLibrarians(ctx, nil, lib.ID, ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Librarians, 3)
	assert.Equal(t, 0, visibleSecrets(page.Librarians))

	t.Log("Testing: the super librarian sees all three secrets")
	page, err = env.svc.ListLibrarians(ctx, IdentityOf(super), lib.ID, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, visibleSecrets(page.Librarians))

	t.Log("Testing: a regular librarian sees only their own secret")
	page, err = env.svc.ListLibrarians(ctx, IdentityOf(alice), lib.ID, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, visibleSecrets(page.Librarians))
	for _, l := range page.Librarians {
		if l.ID == alice.ID {
			assert.Equal(t, alice.SecretKey, l.SecretKey)
		} else {
			assert.Empty(t, l.SecretKey)
		}
	}

	t.Log("Testing: a super librarian of another library sees none")
	_, otherSuper := env.seedLibrary(t, "Other")
	page, err = env.svc.ListLibrarians(ctx, IdentityOf(otherSuper), lib.ID, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 0, visibleSecrets(page.Librarians))
}

func TestListLibrarians_Pagination(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, _ := env.seedLibrary(t, "Tool Shed")
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		env.join(t, lib.ID, name)
	}

	t.Log("Testing: pages of two over five librarians")
	page, err := env.svc.ListLibrarians(ctx, nil, lib.ID, ListParams{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Librarians, 2)
	assert.Equal(t, 5, page.Pagination.TotalCount)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNextPage)
	assert.True(t, page.Pagination.HasPreviousPage)

	t.Log("Testing: search narrows by name")
	page, err = env.svc.ListLibrarians(ctx, nil, lib.ID, ListParams{Search: "CAR"})
	require.NoError(t, err)
	require.Len(t, page.Librarians, 1)
	assert.Equal(t, "carol", page.Librarians[0].Name)

	_, err = env.svc.ListLibrarians(ctx, nil, "lib_missing", ListParams{})
	assertKind(t, err, apperr.KindNotFound)
}

func TestGetLibrarian_Scoping(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	libA, superA := env.seedLibrary(t, "A")
	libB, _ := env.seedLibrary(t, "B")
	alice := env.join(t, libA.ID, "alice")

	t.Log("Testing: a librarian fetched under another library is NotFound")
	_, err := env.svc.GetLibrarian(ctx, IdentityOf(superA), libB.ID, alice.ID)
	assertKind(t, err, apperr.KindNotFound)

	t.Log("Testing: the super librarian sees the secret, visitors do not")
	got, err := env.svc.GetLibrarian(ctx, IdentityOf(superA), libA.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.SecretKey, got.SecretKey)

	got, err = env.svc.GetLibrarian(ctx, nil, libA.ID, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SecretKey)
}

func TestCreateLibrarian(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	regular := env.join(t, lib.ID, "alice")

	superInput := CreateLibrarianInput{Name: "dan", ContactInfo: "dan@example.com", IsSuper: true}

	tests := []struct {
		name  string
		actor *bearer.Identity
		kind  apperr.Kind
	}{
		{"anonymous", nil, apperr.KindUnauthorized},
		{"regular librarian", IdentityOf(regular), apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Logf("Testing: %s cannot create a super librarian", tt.name)
		_, err := env.svc.CreateLibrarian(ctx, tt.actor, lib.ID, superInput)
		assertKind(t, err, tt.kind)
	}

	t.Log("Testing: a super librarian creates another super librarian")
	l, err := env.svc.CreateLibrarian(ctx, IdentityOf(super), lib.ID, superInput)
	require.NoError(t, err)
	assert.True(t, l.IsSuper)
	assert.NotEmpty(t, l.SecretKey)
	assert.NotEqual(t, super.SecretKey, l.SecretKey)

	t.Log("Testing: blank name and contact info are rejected")
	_, err = env.svc.CreateLibrarian(ctx, nil, lib.ID, CreateLibrarianInput{Name: "  ", ContactInfo: "x"})
	assertKind(t, err, apperr.KindValidation)
	_, err = env.svc.CreateLibrarian(ctx, nil, lib.ID, CreateLibrarianInput{Name: "x", ContactInfo: " "})
	assertKind(t, err, apperr.KindValidation)

	t.Log("Testing: joining a missing library is NotFound")
	_, err = env.svc.CreateLibrarian(ctx, nil, "lib_missing", CreateLibrarianInput{Name: "x", ContactInfo: "y"})
	assertKind(t, err, apperr.KindNotFound)

	created := env.rec.ofType(audit.EventLibrarianCreated)
	require.Len(t, created, 2)
	for _, ev := range created {
		for _, v := range ev.Details {
			assert.NotEqual(t, l.SecretKey, v)
		}
	}
}

func TestUpdateSuperStatus(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")

	t.Log("Testing: a regular librarian cannot promote anyone")
	_, err := env.svc.UpdateSuperStatus(ctx, IdentityOf(alice), lib.ID, bob.ID, true)
	assertKind(t, err, apperr.KindForbidden)

	t.Log("Testing: a super librarian promotes a regular librarian")
	updated, err := env.svc.UpdateSuperStatus(ctx, IdentityOf(super), lib.ID, alice.ID, true)
	require.NoError(t, err)
	assert.True(t, updated.IsSuper)

	promoted := env.rec.ofType(audit.EventLibrarianPromoted)
	require.Len(t, promoted, 1)
	assert.Equal(t, super.ID, promoted[0].ActorID)
	assert.Equal(t, alice.ID, promoted[0].TargetID)

	t.Log("Testing: a repeated promotion changes nothing and emits nothing")
	_, err = env.svc.UpdateSuperStatus(ctx, IdentityOf(super), lib.ID, alice.ID, true)
	require.NoError(t, err)
	assert.Len(t, env.rec.ofType(audit.EventLibrarianPromoted), 1)

	t.Log("Testing: a super librarian cannot demote themselves")
	_, err = env.svc.UpdateSuperStatus(ctx, IdentityOf(super), lib.ID, super.ID, false)
	assertKind(t, err, apperr.KindForbidden)

	t.Log("Testing: one super librarian demotes another")
	aliceID := IdentityOf(updated)
	updated, err = env.svc.UpdateSuperStatus(ctx, aliceID, lib.ID, super.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsSuper)
	assert.Len(t, env.rec.ofType(audit.EventLibrarianDemoted), 1)
}

func TestUpdateLibrarianDetails(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")

	name := "Alice A."
	t.Log("Testing: librarians edit their own details")
	got, err := env.svc.UpdateLibrarianDetails(ctx, IdentityOf(alice), lib.ID, alice.ID, UpdateLibrarianInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)
	assert.Equal(t, "alice@example.com", got.ContactInfo)

	t.Log("Testing: librarians cannot edit each other")
	_, err = env.svc.UpdateLibrarianDetails(ctx, IdentityOf(bob), lib.ID, alice.ID, UpdateLibrarianInput{Name: &name})
	assertKind(t, err, apperr.KindForbidden)

	t.Log("Testing: super librarians edit anyone in the library")
	contact := "bob@new.example.com"
	got, err = env.svc.UpdateLibrarianDetails(ctx, IdentityOf(super), lib.ID, bob.ID, UpdateLibrarianInput{ContactInfo: &contact})
	require.NoError(t, err)
	assert.Equal(t, contact, got.ContactInfo)

	t.Log("Testing: blank values are rejected")
	blank := "  "
	_, err = env.svc.UpdateLibrarianDetails(ctx, IdentityOf(alice), lib.ID, alice.ID, UpdateLibrarianInput{Name: &blank})
	assertKind(t, err, apperr.KindValidation)
}

func TestUpdateLibrarian_AllOrNothing(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")
	promote := true

	t.Log("Testing: a blank name next to a promotion leaves the librarian untouched")
	blank := "   "
	_, err := env.svc.UpdateLibrarian(ctx, IdentityOf(super), lib.ID, bob.ID, UpdateLibrarianInput{IsSuper: &promote, Name: &blank})
	assertKind(t, err, apperr.KindValidation)
	stored, err := env.store.GetLibrarian(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSuper)
	assert.Equal(t, "bob", stored.Name)

	t.Log("Testing: a refused promotion does not apply the rename either")
	name := "Alice A."
	_, err = env.svc.UpdateLibrarian(ctx, IdentityOf(alice), lib.ID, alice.ID, UpdateLibrarianInput{IsSuper: &promote, Name: &name})
	assertKind(t, err, apperr.KindForbidden)
	stored, err = env.store.GetLibrarian(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Name)
	assert.Empty(t, env.rec.ofType(audit.EventLibrarianUpdated))

	t.Log("Testing: both halves land together and each is audited")
	got, err := env.svc.UpdateLibrarian(ctx, IdentityOf(super), lib.ID, bob.ID, UpdateLibrarianInput{IsSuper: &promote, Name: &name})
	require.NoError(t, err)
	assert.True(t, got.IsSuper)
	assert.Equal(t, name, got.Name)
	assert.Len(t, env.rec.ofType(audit.EventLibrarianPromoted), 1)
	assert.Len(t, env.rec.ofType(audit.EventLibrarianUpdated), 1)
}

func TestDeleteLibrarian_Dispositions(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	other, _ := env.seedLibrary(t, "Other")
	outsider := env.join(t, other.ID, "outsider")
	alice := env.join(t, lib.ID, "alice")
	bob := env.join(t, lib.ID, "bob")
	carol := env.join(t, lib.ID, "carol")

	drill := env.addBook(t, alice, "Cordless Drill")
	ladder := env.addBook(t, carol, "Ladder")
	_, err := env.svc.BorrowBook(ctx, IdentityOf(bob), lib.ID, drill.ID, BorrowInput{})
	require.NoError(t, err)
	_, err = env.svc.BorrowBook(ctx, IdentityOf(alice), lib.ID, ladder.ID, BorrowInput{})
	require.NoError(t, err)

	superID := IdentityOf(super)

	t.Log("Testing: deleting a librarian with dependents and no disposition is a Conflict")
	_, err = env.svc.DeleteLibrarian(ctx, superID, lib.ID, alice.ID, DeleteLibrarianInput{})
	assertKind(t, err, apperr.KindConflict)
	_, err = env.store.GetLibrarian(ctx, alice.ID)
	require.NoError(t, err)
	b, err := env.store.GetBook(ctx, drill.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, b.LibrarianID)

	t.Log("Testing: reassigning to another library's librarian is a Conflict and mutates nothing")
	_, err = env.svc.DeleteLibrarian(ctx, superID, lib.ID, alice.ID, DeleteLibrarianInput{ReassignBooksTo: outsider.ID})
	assertKind(t, err, apperr.KindConflict)
	b, err = env.store.GetBook(ctx, drill.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, b.LibrarianID)

	t.Log("Testing: both dispositions at once are rejected")
	_, err = env.svc.DeleteLibrarian(ctx, superID, lib.ID, alice.ID, DeleteLibrarianInput{ReassignBooksTo: bob.ID, DeleteBooksAndLoans: true})
	assertKind(t, err, apperr.KindValidation)

	t.Log("Testing: a regular librarian cannot delete others, nobody deletes themselves")
	_, err = env.svc.DeleteLibrarian(ctx, IdentityOf(bob), lib.ID, alice.ID, DeleteLibrarianInput{ReassignBooksTo: bob.ID})
	assertKind(t, err, apperr.KindForbidden)
	_, err = env.svc.DeleteLibrarian(ctx, superID, lib.ID, super.ID, DeleteLibrarianInput{})
	assertKind(t, err, apperr.KindForbidden)

	t.Log("Testing: reassignment moves books and loans to the target")
	res, err := env.svc.DeleteLibrarian(ctx, superID, lib.ID, alice.ID, DeleteLibrarianInput{ReassignBooksTo: bob.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BooksReassigned)
	assert.Equal(t, 1, res.LoansReassigned)
	b, err = env.store.GetBook(ctx, drill.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, b.LibrarianID)
	_, err = env.store.GetLibrarian(ctx, alice.ID)
	assert.ErrorIs(t, err, store.ErrLibrarianNotFound)

	t.Log("Testing: cascade removes the librarian's books and their loans")
	res, err = env.svc.DeleteLibrarian(ctx, superID, lib.ID, carol.ID, DeleteLibrarianInput{DeleteBooksAndLoans: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BooksDeleted)
	_, err = env.store.GetBook(ctx, ladder.ID)
	assert.ErrorIs(t, err, store.ErrBookNotFound)

	deleted := env.rec.ofType(audit.EventLibrarianDeleted)
	require.Len(t, deleted, 2)
	assert.Equal(t, audit.DispositionReassign, deleted[0].Details["disposition"])
	assert.Equal(t, audit.DispositionCascade, deleted[1].Details["disposition"])
}

func TestDeleteLibrarian_WithoutDependents(t *testing.T) {
	t.Parallel()
	env := setupTestService(t)
	ctx := context.Background()
	lib, super := env.seedLibrary(t, "Tool Shed")
	alice := env.join(t, lib.ID, "alice")

	t.Log("Testing: a librarian with nothing attached is deleted without a disposition")
	_, err := env.svc.DeleteLibrarian(ctx, IdentityOf(super), lib.ID, alice.ID, DeleteLibrarianInput{})
	require.NoError(t, err)

	t.Log("Testing: a second delete is NotFound")
	_, err = env.svc.DeleteLibrarian(ctx, IdentityOf(super), lib.ID, alice.ID, DeleteLibrarianInput{})
	assertKind(t, err, apperr.KindNotFound)
}
