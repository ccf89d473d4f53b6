package api

import (
	"time"

	"github.com/eflynch/usufruit/pkg/audit"
	"github.com/eflynch/usufruit/pkg/core"
	"github.com/eflynch/usufruit/pkg/search"
	"github.com/eflynch/usufruit/pkg/store"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// ----- Libraries -----

type libraryResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description *string             `json:"description"`
	Location    *string             `json:"location"`
	CreatedAt   string              `json:"createdAt"`
	UpdatedAt   string              `json:"updatedAt"`
	Stats       *libraryStatsResult `json:"stats,omitempty"`
}

type libraryStatsResult struct {
	Librarians  int `json:"librarians"`
	Books       int `json:"books"`
	ActiveLoans int `json:"activeLoans"`
}

func libraryToResponse(l *store.Library) libraryResponse {
	return libraryResponse{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		Location:    l.Location,
		CreatedAt:   formatTime(l.CreatedAt),
		UpdatedAt:   formatTime(l.UpdatedAt),
	}
}

func libraryDetailToResponse(d *core.LibraryDetail) libraryResponse {
	resp := libraryToResponse(d.Library)
	if d.Stats != nil {
		resp.Stats = &libraryStatsResult{
			Librarians:  d.Stats.Librarians,
			Books:       d.Stats.Books,
			ActiveLoans: d.Stats.ActiveLoans,
		}
	}
	return resp
}

type createdLibraryResponse struct {
	Library        libraryResponse    `json:"library"`
	FirstLibrarian *librarianResponse `json:"firstLibrarian,omitempty"`
}

// ----- Librarians -----

// librarianResponse carries secretKey only when the caller may see it.
type librarianResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContactInfo string `json:"contactInfo"`
	IsSuper     bool   `json:"isSuper"`
	LibraryID   string `json:"libraryId"`
	SecretKey   string `json:"secretKey,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func librarianToResponse(l *store.Librarian) librarianResponse {
	return librarianResponse{
		ID:          l.ID,
		Name:        l.Name,
		ContactInfo: l.ContactInfo,
		IsSuper:     l.IsSuper,
		LibraryID:   l.LibraryID,
		SecretKey:   l.SecretKey,
		CreatedAt:   formatTime(l.CreatedAt),
		UpdatedAt:   formatTime(l.UpdatedAt),
	}
}

type librarianListResponse struct {
	Librarians []librarianResponse `json:"librarians"`
	Pagination search.Pagination   `json:"pagination"`
}

type sessionResponse struct {
	Librarian librarianResponse `json:"librarian"`
	Library   libraryResponse   `json:"library"`
}

type deleteLibrarianResponse struct {
	Deleted         bool `json:"deleted"`
	BooksReassigned int  `json:"booksReassigned"`
	LoansReassigned int  `json:"loansReassigned"`
	BooksDeleted    int  `json:"booksDeleted"`
	LoansDeleted    int  `json:"loansDeleted"`
}

// ----- Books and loans -----

type loanResponse struct {
	ID          string  `json:"id"`
	BookID      string  `json:"bookId"`
	BookTitle   string  `json:"bookTitle,omitempty"`
	LibrarianID string  `json:"librarianId"`
	BorrowedAt  string  `json:"borrowedAt"`
	DueDate     *string `json:"dueDate"`
	ReturnedAt  *string `json:"returnedAt"`
	Overdue     bool    `json:"overdue"`
}

type bookResponse struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Author               *string       `json:"author"`
	Description          *string       `json:"description"`
	BorrowDurationDays   int           `json:"borrowDurationDays"`
	OrganizingRules      *string       `json:"organizingRules"`
	CheckInInstructions  *string       `json:"checkInInstructions"`
	CheckOutInstructions *string       `json:"checkOutInstructions"`
	LibraryID            string        `json:"libraryId"`
	LibrarianID          string        `json:"librarianId"`
	Available            bool          `json:"available"`
	ActiveLoan           *loanResponse `json:"activeLoan"`
	CreatedAt            string        `json:"createdAt"`
	UpdatedAt            string        `json:"updatedAt"`

	// Set on search results.
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

type bookListResponse struct {
	Books      []bookResponse       `json:"books"`
	Pagination search.Pagination    `json:"pagination"`
	Semantic   *search.SemanticInfo `json:"semantic,omitempty"`
}

type auditEntryResponse struct {
	ID        int64             `json:"id"`
	Timestamp string            `json:"timestamp"`
	EventType string            `json:"eventType"`
	Severity  string            `json:"severity"`
	ActorID   string            `json:"actorId,omitempty"`
	TargetID  string            `json:"targetId,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

func auditEntryToResponse(e *store.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:        e.ID,
		Timestamp: formatTime(e.Timestamp),
		EventType: e.EventType,
		Severity:  audit.Severity(e.Severity).String(),
		ActorID:   e.ActorID,
		TargetID:  e.TargetID,
		RequestID: e.RequestID,
		Details:   e.Details,
	}
}

// loanToResponse derives the overdue flag at read time.
func (s *Server) loanToResponse(l *store.Loan) loanResponse {
	return loanResponse{
		ID:          l.ID,
		BookID:      l.BookID,
		BookTitle:   l.BookTitle,
		LibrarianID: l.LibrarianID,
		BorrowedAt:  formatTime(l.BorrowedAt),
		DueDate:     formatTimePtr(l.DueDate),
		ReturnedAt:  formatTimePtr(l.ReturnedAt),
		Overdue:     s.svc.Overdue(l),
	}
}

func (s *Server) loansToResponse(loans []*store.Loan) []loanResponse {
	out := make([]loanResponse, len(loans))
	for i, l := range loans {
		out[i] = s.loanToResponse(l)
	}
	return out
}

func (s *Server) bookToResponse(b *store.Book) bookResponse {
	resp := bookResponse{
		ID:                   b.ID,
		Title:                b.Title,
		Author:               b.Author,
		Description:          b.Description,
		BorrowDurationDays:   b.BorrowDurationDays,
		OrganizingRules:      b.OrganizingRules,
		CheckInInstructions:  b.CheckInInstructions,
		CheckOutInstructions: b.CheckOutInstructions,
		LibraryID:            b.LibraryID,
		LibrarianID:          b.LibrarianID,
		Available:            b.ActiveLoan == nil,
		CreatedAt:            formatTime(b.CreatedAt),
		UpdatedAt:            formatTime(b.UpdatedAt),
	}
	if b.ActiveLoan != nil {
		loan := s.loanToResponse(b.ActiveLoan)
		resp.ActiveLoan = &loan
	}
	return resp
}

func (s *Server) searchResultToResponse(res *search.Result) bookListResponse {
	out := bookListResponse{
		Books:      make([]bookResponse, len(res.Hits)),
		Pagination: res.Pagination,
		Semantic:   res.Semantic,
	}
	for i, h := range res.Hits {
		b := s.bookToResponse(h.Book)
		if res.Semantic != nil {
			b.Source = h.Source
			b.Score = h.Score
		}
		out.Books[i] = b
	}
	return out
}
