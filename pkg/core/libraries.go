package core

import (
	"context"
	"errors"
	"strings"

	"github.com/eflynch/usufruit/pkg/apperr"
	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/authz"
	"github.com/eflynch/usufruit/pkg/bearer"
	"github.com/eflynch/usufruit/pkg/store"
)

// maxSecretAttempts bounds retries on the astronomically unlikely event of
// a secret key collision.
const maxSecretAttempts = 3

// FirstLibrarianInput describes the founding librarian of a new library.
type FirstLibrarianInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	ContactInfo string `json:"contactInfo" validate:"required,max=500"`
}

// CreateLibraryInput describes a new library.
type CreateLibraryInput struct {
	Name           string               `json:"name" validate:"required,max=200"`
	Description    *string              `json:"description" validate:"omitempty,max=2000"`
	Location       *string              `json:"location" validate:"omitempty,max=500"`
	FirstLibrarian *FirstLibrarianInput `json:"firstLibrarian" validate:"omitempty"`
}

// CreatedLibrary is the result of CreateLibrary. FirstLibrarian, when
// present, carries its secret key; this is the only time it is returned
// without a super librarian asking for it.
type CreatedLibrary struct {
	Library        *store.Library
	FirstLibrarian *store.Librarian
}

// CreateLibrary creates a library. With FirstLibrarian set, a super
// librarian is created in the same transaction.
func (s *Service) CreateLibrary(ctx context.Context, actor *bearer.Identity, in CreateLibraryInput) (*CreatedLibrary, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = emptyToNil(in.Description)
	in.Location = emptyToNil(in.Location)
	if in.FirstLibrarian != nil {
		in.FirstLibrarian.Name = strings.TrimSpace(in.FirstLibrarian.Name)
		in.FirstLibrarian.ContactInfo = strings.TrimSpace(in.FirstLibrarian.ContactInfo)
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLibraryCreate, authz.Resource{UID: "new", Type: authz.ResourceLibrary}, nil); err != nil {
		return nil, err
	}

	lib := &store.Library{Name: in.Name, Description: in.Description, Location: in.Location}
	out := &CreatedLibrary{Library: lib}

	if in.FirstLibrarian == nil {
		if err := s.store.CreateLibrary(ctx, lib); err != nil {
			return nil, s.storeError(ctx, err)
		}
	} else {
		first := &store.Librarian{
			Name:        in.FirstLibrarian.Name,
			ContactInfo: in.FirstLibrarian.ContactInfo,
			IsSuper:     true,
		}
		err := s.withSecret(first, func() error {
			lib.ID = ""
			return s.store.CreateLibraryWithLibrarian(ctx, lib, first)
		})
		if err != nil {
			return nil, s.storeError(ctx, err)
		}
		out.FirstLibrarian = first
	}

	firstID := ""
	if out.FirstLibrarian != nil {
		firstID = out.FirstLibrarian.ID
	}
	s.emit(audit.NewLibraryCreated(lib.ID, firstID, authz.RequestIDFromContext(ctx)))
	s.logger.InfoContext(ctx, "library created", "library_id", lib.ID, "first_librarian_id", firstID)
	return out, nil
}

// withSecret assigns a fresh secret key to l and runs insert, retrying with
// a new key if the store reports a collision.
func (s *Service) withSecret(l *store.Librarian, insert func() error) error {
	var err error
	for i := 0; i < maxSecretAttempts; i++ {
		if l.SecretKey, err = newSecret(); err != nil {
			return err
		}
		l.ID = ""
		if err = insert(); !errors.Is(err, store.ErrDuplicateSecretKey) {
			return err
		}
	}
	return err
}

// ListLibraries returns all libraries.
func (s *Service) ListLibraries(ctx context.Context, actor *bearer.Identity) ([]*store.Library, error) {
	if err := s.authorize(ctx, actor, authz.ActionLibraryList, authz.Resource{UID: "*", Type: authz.ResourceLibrary}, nil); err != nil {
		return nil, err
	}
	libs, err := s.store.ListLibraries(ctx)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return libs, nil
}

// LibraryDetail is a library with its counts.
type LibraryDetail struct {
	Library *store.Library
	Stats   *store.LibraryStats
}

// GetLibrary returns a library with its counts.
func (s *Service) GetLibrary(ctx context.Context, actor *bearer.Identity, libraryID string) (*LibraryDetail, error) {
	lib, err := s.requireLibrary(ctx, libraryID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLibraryRead, libraryResource(lib.ID), nil); err != nil {
		return nil, err
	}
	stats, err := s.store.GetLibraryStats(ctx, lib.ID)
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	return &LibraryDetail{Library: lib, Stats: stats}, nil
}

// UpdateLibraryInput carries library fields to change. Nil fields are kept.
type UpdateLibraryInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Location    *string `json:"location" validate:"omitempty,max=500"`
}

// UpdateLibrary changes library metadata. Only super librarians of the
// library may do so.
func (s *Service) UpdateLibrary(ctx context.Context, actor *bearer.Identity, libraryID string, in UpdateLibraryInput) (*store.Library, error) {
	in.Name = trimPtr(in.Name)
	in.Description = trimPtr(in.Description)
	in.Location = trimPtr(in.Location)
	if in.Name != nil && *in.Name == "" {
		return nil, apperr.Validation("name must not be empty")
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if _, err := s.requireLibrary(ctx, libraryID); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, authz.ActionLibraryUpdate, libraryResource(libraryID), nil); err != nil {
		return nil, err
	}

	lib, err := s.store.UpdateLibrary(ctx, libraryID, store.LibraryUpdate{
		Name:        in.Name,
		Description: in.Description,
		Location:    in.Location,
	})
	if err != nil {
		return nil, s.storeError(ctx, err)
	}
	s.emit(audit.NewLibraryUpdated(libraryID, actorID(actor), authz.RequestIDFromContext(ctx)))
	return lib, nil
}
