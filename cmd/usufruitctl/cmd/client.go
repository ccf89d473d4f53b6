package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eflynch/usufruit/pkg/clierror"
)

// Client provides HTTP access to the usufruitd API. The secret key is sent
// only in the Authorization header.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. An empty key makes
// anonymous requests.
func NewClient(baseURL, key string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Library matches the API library representation.
type Library struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description *string       `json:"description" yaml:"description"`
	Location    *string       `json:"location" yaml:"location"`
	CreatedAt   string        `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   string        `json:"updatedAt" yaml:"updatedAt"`
	Stats       *LibraryStats `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// LibraryStats counts a library's contents.
type LibraryStats struct {
	Librarians  int `json:"librarians" yaml:"librarians"`
	Books       int `json:"books" yaml:"books"`
	ActiveLoans int `json:"activeLoans" yaml:"activeLoans"`
}

// Librarian matches the API librarian representation. SecretKey is only
// present when the caller may see it.
type Librarian struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	ContactInfo string `json:"contactInfo" yaml:"contactInfo"`
	IsSuper     bool   `json:"isSuper" yaml:"isSuper"`
	LibraryID   string `json:"libraryId" yaml:"libraryId"`
	SecretKey   string `json:"secretKey,omitempty" yaml:"secretKey,omitempty"`
	CreatedAt   string `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   string `json:"updatedAt" yaml:"updatedAt"`
}

// Loan matches the API loan representation.
type Loan struct {
	ID          string  `json:"id" yaml:"id"`
	BookID      string  `json:"bookId" yaml:"bookId"`
	BookTitle   string  `json:"bookTitle,omitempty" yaml:"bookTitle,omitempty"`
	LibrarianID string  `json:"librarianId" yaml:"librarianId"`
	BorrowedAt  string  `json:"borrowedAt" yaml:"borrowedAt"`
	DueDate     *string `json:"dueDate" yaml:"dueDate"`
	ReturnedAt  *string `json:"returnedAt" yaml:"returnedAt"`
	Overdue     bool    `json:"overdue" yaml:"overdue"`
}

// Book matches the API book representation.
type Book struct {
	ID                   string  `json:"id" yaml:"id"`
	Title                string  `json:"title" yaml:"title"`
	Author               *string `json:"author" yaml:"author"`
	Description          *string `json:"description" yaml:"description"`
	BorrowDurationDays   int     `json:"borrowDurationDays" yaml:"borrowDurationDays"`
	OrganizingRules      *string `json:"organizingRules" yaml:"organizingRules"`
	CheckInInstructions  *string `json:"checkInInstructions" yaml:"checkInInstructions"`
	CheckOutInstructions *string `json:"checkOutInstructions" yaml:"checkOutInstructions"`
	LibraryID            string  `json:"libraryId" yaml:"libraryId"`
	LibrarianID          string  `json:"librarianId" yaml:"librarianId"`
	Available            bool    `json:"available" yaml:"available"`
	ActiveLoan           *Loan   `json:"activeLoan" yaml:"activeLoan"`
	CreatedAt            string  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt            string  `json:"updatedAt" yaml:"updatedAt"`
	Source               string  `json:"source,omitempty" yaml:"source,omitempty"`
	Score                float64 `json:"score,omitempty" yaml:"score,omitempty"`
}

// Pagination describes a page of results.
type Pagination struct {
	CurrentPage     int  `json:"currentPage" yaml:"currentPage"`
	TotalPages      int  `json:"totalPages" yaml:"totalPages"`
	TotalCount      int  `json:"totalCount" yaml:"totalCount"`
	HasNextPage     bool `json:"hasNextPage" yaml:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage" yaml:"hasPreviousPage"`
}

// SemanticInfo reports what semantic search added to a page.
type SemanticInfo struct {
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	Candidates int     `json:"candidates" yaml:"candidates"`
	Added      int     `json:"added" yaml:"added"`
}

// BookPage is one page of books.
type BookPage struct {
	Books      []Book        `json:"books" yaml:"books"`
	Pagination Pagination    `json:"pagination" yaml:"pagination"`
	Semantic   *SemanticInfo `json:"semantic,omitempty" yaml:"semantic,omitempty"`
}

// LibrarianPage is one page of librarians.
type LibrarianPage struct {
	Librarians []Librarian `json:"librarians" yaml:"librarians"`
	Pagination Pagination  `json:"pagination" yaml:"pagination"`
}

// Session is the result of a login.
type Session struct {
	Librarian Librarian `json:"librarian" yaml:"librarian"`
	Library   Library   `json:"library" yaml:"library"`
}

// CreatedLibrary is returned by library creation.
type CreatedLibrary struct {
	Library        Library    `json:"library" yaml:"library"`
	FirstLibrarian *Librarian `json:"firstLibrarian,omitempty" yaml:"firstLibrarian,omitempty"`
}

// DeleteResult reports what happened to a deleted librarian's books.
type DeleteResult struct {
	Deleted         bool `json:"deleted" yaml:"deleted"`
	BooksReassigned int  `json:"booksReassigned" yaml:"booksReassigned"`
	LoansReassigned int  `json:"loansReassigned" yaml:"loansReassigned"`
	BooksDeleted    int  `json:"booksDeleted" yaml:"booksDeleted"`
	LoansDeleted    int  `json:"loansDeleted" yaml:"loansDeleted"`
}

// AuditEntry is one audit trail record.
type AuditEntry struct {
	ID        int64             `json:"id" yaml:"id"`
	Timestamp string            `json:"timestamp" yaml:"timestamp"`
	EventType string            `json:"eventType" yaml:"eventType"`
	Severity  string            `json:"severity" yaml:"severity"`
	ActorID   string            `json:"actorId,omitempty" yaml:"actorId,omitempty"`
	TargetID  string            `json:"targetId,omitempty" yaml:"targetId,omitempty"`
	RequestID string            `json:"requestId,omitempty" yaml:"requestId,omitempty"`
	Details   map[string]string `json:"details,omitempty" yaml:"details,omitempty"`
}

// QueueStats are the server's embedding queue counters.
type QueueStats struct {
	Enqueued int64 `json:"enqueued" yaml:"enqueued"`
	Indexed  int64 `json:"indexed" yaml:"indexed"`
	Failed   int64 `json:"failed" yaml:"failed"`
	Dropped  int64 `json:"dropped" yaml:"dropped"`
	Pending  int   `json:"pending" yaml:"pending"`
}

// Health is the /health response.
type Health struct {
	Status         string      `json:"status" yaml:"status"`
	Version        string      `json:"version" yaml:"version"`
	Uptime         string      `json:"uptime" yaml:"uptime"`
	UptimeSeconds  int64       `json:"uptimeSeconds" yaml:"uptimeSeconds"`
	Database       string      `json:"database" yaml:"database"`
	SemanticSearch bool        `json:"semanticSearch" yaml:"semanticSearch"`
	EmbeddingQueue *QueueStats `json:"embeddingQueue,omitempty" yaml:"embeddingQueue,omitempty"`
}

// CreateLibraryRequest is the body of POST /libraries.
type CreateLibraryRequest struct {
	Name           string                 `json:"name"`
	Description    *string                `json:"description,omitempty"`
	Location       *string                `json:"location,omitempty"`
	FirstLibrarian *FirstLibrarianRequest `json:"firstLibrarian,omitempty"`
}

// FirstLibrarianRequest names the super librarian created with a library.
type FirstLibrarianRequest struct {
	Name        string `json:"name"`
	ContactInfo string `json:"contactInfo"`
}

// CreateLibrarianRequest is the body of POST .../librarians.
type CreateLibrarianRequest struct {
	Name        string `json:"name"`
	ContactInfo string `json:"contactInfo"`
	IsSuper     bool   `json:"isSuper"`
}

// DeleteLibrarianRequest selects what happens to the librarian's books.
type DeleteLibrarianRequest struct {
	ReassignBooksTo     string `json:"reassignBooksTo,omitempty"`
	DeleteBooksAndLoans bool   `json:"deleteBooksAndLoans,omitempty"`
}

// ListOptions pages and filters list endpoints.
type ListOptions struct {
	Page   int
	Limit  int
	Search string
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	return q
}

// AuditOptions filters the audit trail.
type AuditOptions struct {
	EventType string
	ActorID   string
	Since     string // RFC 3339
	Limit     int
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func libPath(libraryID string, parts ...string) string {
	p := "/api/v1/libraries/" + url.PathEscape(libraryID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// do sends a JSON request and decodes a JSON response into out. Error
// responses become *clierror.CLIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, clierror.ConnectionFailed(c.baseURL)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e apiError
	if json.Unmarshal(data, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	return clierror.FromHTTP(resp.StatusCode, e.Error)
}

// Authenticate resolves a secret key to its librarian and library.
func (c *Client) Authenticate(ctx context.Context, secret string) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, "/api/v1/auth", nil, map[string]string{"secretKey": secret}, &s)
	return &s, err
}

// Login checks that secret belongs to a librarian of libraryID.
func (c *Client) Login(ctx context.Context, libraryID, secret string) (*Session, error) {
	var s Session
	err := c.do(ctx, http.MethodPost, libPath(libraryID, "login"), nil, map[string]string{"secretKey": secret}, &s)
	return &s, err
}

// ListLibraries returns every library.
func (c *Client) ListLibraries(ctx context.Context) ([]Library, error) {
	var out struct {
		Libraries []Library `json:"libraries"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/libraries", nil, nil, &out)
	return out.Libraries, err
}

// CreateLibrary creates a library, optionally with its first librarian.
func (c *Client) CreateLibrary(ctx context.Context, req CreateLibraryRequest) (*CreatedLibrary, error) {
	var out CreatedLibrary
	err := c.do(ctx, http.MethodPost, "/api/v1/libraries", nil, req, &out)
	return &out, err
}

// GetLibrary returns a library with its stats.
func (c *Client) GetLibrary(ctx context.Context, id string) (*Library, error) {
	var out Library
	err := c.do(ctx, http.MethodGet, libPath(id), nil, nil, &out)
	return &out, err
}

// UpdateLibrary applies fields, a partial JSON object.
func (c *Client) UpdateLibrary(ctx context.Context, id string, fields map[string]any) (*Library, error) {
	var out Library
	err := c.do(ctx, http.MethodPut, libPath(id), nil, fields, &out)
	return &out, err
}

// ListLibrarians returns one page of a library's librarians.
func (c *Client) ListLibrarians(ctx context.Context, libraryID string, opts ListOptions) (*LibrarianPage, error) {
	var out LibrarianPage
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "librarians"), opts.values(), nil, &out)
	return &out, err
}

// CreateLibrarian adds a librarian.
func (c *Client) CreateLibrarian(ctx context.Context, libraryID string, req CreateLibrarianRequest) (*Librarian, error) {
	var out Librarian
	err := c.do(ctx, http.MethodPost, libPath(libraryID, "librarians"), nil, req, &out)
	return &out, err
}

// GetLibrarian returns one librarian.
func (c *Client) GetLibrarian(ctx context.Context, libraryID, id string) (*Librarian, error) {
	var out Librarian
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "librarians", id), nil, nil, &out)
	return &out, err
}

// UpdateLibrarian applies isSuper, name and contactInfo from fields.
func (c *Client) UpdateLibrarian(ctx context.Context, libraryID, id string, fields map[string]any) (*Librarian, error) {
	var out Librarian
	err := c.do(ctx, http.MethodPatch, libPath(libraryID, "librarians", id), nil, fields, &out)
	return &out, err
}

// DeleteLibrarian removes a librarian with the chosen disposition.
func (c *Client) DeleteLibrarian(ctx context.Context, libraryID, id string, req DeleteLibrarianRequest) (*DeleteResult, error) {
	var out DeleteResult
	err := c.do(ctx, http.MethodDelete, libPath(libraryID, "librarians", id), nil, req, &out)
	return &out, err
}

// ListBooks returns one page of books. A Search option runs hybrid search.
func (c *Client) ListBooks(ctx context.Context, libraryID string, opts ListOptions) (*BookPage, error) {
	var out BookPage
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "books"), opts.values(), nil, &out)
	return &out, err
}

// CreateBook adds a book described by fields.
func (c *Client) CreateBook(ctx context.Context, libraryID string, fields map[string]any) (*Book, error) {
	var out Book
	err := c.do(ctx, http.MethodPost, libPath(libraryID, "books"), nil, fields, &out)
	return &out, err
}

// GetBook returns one book with its active loan.
func (c *Client) GetBook(ctx context.Context, libraryID, id string) (*Book, error) {
	var out Book
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "books", id), nil, nil, &out)
	return &out, err
}

// UpdateBook applies fields, a partial JSON object.
func (c *Client) UpdateBook(ctx context.Context, libraryID, id string, fields map[string]any) (*Book, error) {
	var out Book
	err := c.do(ctx, http.MethodPut, libPath(libraryID, "books", id), nil, fields, &out)
	return &out, err
}

// DeleteBook removes a book and its loan history.
func (c *Client) DeleteBook(ctx context.Context, libraryID, id string) error {
	return c.do(ctx, http.MethodDelete, libPath(libraryID, "books", id), nil, nil, nil)
}

// Borrow opens a loan. An empty borrowerID borrows for the key's owner.
func (c *Client) Borrow(ctx context.Context, libraryID, bookID, borrowerID string) (*Loan, error) {
	var body any
	if borrowerID != "" {
		body = map[string]string{"librarianId": borrowerID}
	}
	var out Loan
	err := c.do(ctx, http.MethodPost, libPath(libraryID, "books", bookID, "loans"), nil, body, &out)
	return &out, err
}

// Return closes a loan of bookID.
func (c *Client) Return(ctx context.Context, libraryID, bookID, loanID string) (*Loan, error) {
	var out Loan
	body := map[string]string{"action": "return", "loanId": loanID}
	err := c.do(ctx, http.MethodPatch, libPath(libraryID, "books", bookID, "loans"), nil, body, &out)
	return &out, err
}

// LoanHistory lists a book's loans, newest first.
func (c *Client) LoanHistory(ctx context.Context, libraryID, bookID string) ([]Loan, error) {
	var out struct {
		Loans []Loan `json:"loans"`
	}
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "books", bookID, "loans"), nil, nil, &out)
	return out.Loans, err
}

// ListLoans lists loans across the library.
func (c *Client) ListLoans(ctx context.Context, libraryID string, activeOnly bool, borrowerID string) ([]Loan, error) {
	q := url.Values{}
	if activeOnly {
		q.Set("active", "true")
	}
	if borrowerID != "" {
		q.Set("librarianId", borrowerID)
	}
	var out struct {
		Loans []Loan `json:"loans"`
	}
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "loans"), q, nil, &out)
	return out.Loans, err
}

// Audit returns audit trail entries, newest first.
func (c *Client) Audit(ctx context.Context, libraryID string, opts AuditOptions) ([]AuditEntry, error) {
	q := url.Values{}
	if opts.EventType != "" {
		q.Set("type", opts.EventType)
	}
	if opts.ActorID != "" {
		q.Set("actorId", opts.ActorID)
	}
	if opts.Since != "" {
		q.Set("since", opts.Since)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out struct {
		Entries []AuditEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, libPath(libraryID, "audit"), q, nil, &out)
	return out.Entries, err
}

// Health fetches /health. A degraded server answers 503 with a body; that
// body is returned together with the error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	resp, err := c.send(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}
	var h Health
	if jsonErr := json.Unmarshal(data, &h); jsonErr != nil || h.Status == "" {
		return nil, clierror.FromHTTP(resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode != http.StatusOK {
		return &h, clierror.ServerUnavailable("server is " + h.Status + ": database " + h.Database)
	}
	return &h, nil
}
