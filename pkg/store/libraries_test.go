package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryCRUD(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		t.Log("Testing: created library round-trips with optional fields")
		loc := "Back room"
		lib := &Library{Name: "Tool Library", Location: &loc}
		require.NoError(t, s.CreateLibrary(ctx, lib))
		assert.NotEmpty(t, lib.ID)

		got, err := s.GetLibrary(ctx, lib.ID)
		require.NoError(t, err)
		assert.Equal(t, "Tool Library", got.Name)
		require.NotNil(t, got.Location)
		assert.Equal(t, "Back room", *got.Location)
		assert.Nil(t, got.Description)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.GetLibrary(ctx, "lib_missing")
		assert.ErrorIs(t, err, ErrLibraryNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		t.Log("Testing: update changes only supplied fields")
		desc := "Seeds and cuttings"
		lib := &Library{Name: "Seed Library", Description: &desc}
		require.NoError(t, s.CreateLibrary(ctx, lib))

		name := "Seed Bank"
		got, err := s.UpdateLibrary(ctx, lib.ID, LibraryUpdate{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "Seed Bank", got.Name)
		require.NotNil(t, got.Description)
		assert.Equal(t, "Seeds and cuttings", *got.Description)

		_, err = s.UpdateLibrary(ctx, "lib_missing", LibraryUpdate{Name: &name})
		assert.ErrorIs(t, err, ErrLibraryNotFound)
	})
}

func TestCreateLibraryWithLibrarianIsAtomic(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	lib, super, _ := seedLibrary(t, s, "Atomic")
	t.Log("Testing: duplicate first-librarian secret rolls back the library")

	dup := &Library{Name: "Should not exist"}
	err := s.CreateLibraryWithLibrarian(ctx, dup, &Librarian{Name: "x", ContactInfo: "x", SecretKey: super.SecretKey})
	assert.ErrorIs(t, err, ErrDuplicateSecretKey)

	_, err = s.GetLibrary(ctx, dup.ID)
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	libs, err := s.ListLibraries(ctx)
	require.NoError(t, err)
	require.Len(t, libs, 1)
	assert.Equal(t, lib.ID, libs[0].ID)
}

func TestLibraryStats(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()

	lib, super, regular := seedLibrary(t, s, "Stats")
	b1 := seedBook(t, s, lib, super, "Drill")
	seedBook(t, s, lib, super, "Saw")
	require.NoError(t, s.BorrowBook(ctx, &Loan{BookID: b1.ID, LibrarianID: regular.ID}))

	stats, err := s.GetLibraryStats(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, &LibraryStats{Librarians: 2, Books: 2, ActiveLoans: 1}, stats)
}
