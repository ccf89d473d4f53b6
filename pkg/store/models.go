package store

import (
	"errors"
	"time"
)

// Sentinel errors returned by store operations. Callers classify them with
// errors.Is; none of them carry secret material.
var (
	ErrLibraryNotFound     = errors.New("library not found")
	ErrLibrarianNotFound   = errors.New("librarian not found")
	ErrBookNotFound        = errors.New("book not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrBookOnLoan          = errors.New("book is already on loan")
	ErrLoanReturned        = errors.New("loan already returned")
	ErrHasDependents       = errors.New("librarian still owns books or has loans")
	ErrInvalidReassignment = errors.New("reassignment target must be another librarian of the same library")
	ErrDuplicateSecretKey  = errors.New("secret key already in use")
)

// Library is an independent lending community.
type Library struct {
	ID          string
	Name        string
	Description *string
	Location    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LibraryStats summarizes a library's contents.
type LibraryStats struct {
	Librarians  int
	Books       int
	ActiveLoans int
}

// Librarian is a member of exactly one library. SecretKey is the bearer
// credential; it is never logged.
type Librarian struct {
	ID          string
	Name        string
	ContactInfo string
	IsSuper     bool
	SecretKey   string
	LibraryID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Book is an item owned by a librarian. ActiveLoan is populated by reads
// when the book is currently on loan.
type Book struct {
	ID                   string
	Title                string
	Author               *string
	Description          *string
	BorrowDurationDays   int
	OrganizingRules      *string
	CheckInInstructions  *string
	CheckOutInstructions *string
	LibraryID            string
	LibrarianID          string
	Embedding            []byte // CBOR-encoded vector, nil until indexed
	EmbeddedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time

	ActiveLoan *Loan
}

// Loan records a librarian borrowing a book. A nil ReturnedAt means the
// loan is open.
type Loan struct {
	ID          string
	BookID      string
	LibrarianID string
	BorrowedAt  time.Time
	DueDate     *time.Time
	ReturnedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// BookTitle is filled by library-wide listings for display.
	BookTitle string
}

// Active reports whether the loan has not been returned.
func (l *Loan) Active() bool {
	return l.ReturnedAt == nil
}
