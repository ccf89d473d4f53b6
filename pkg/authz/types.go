package authz

import "time"

// PrincipalType distinguishes authenticated librarians from anonymous visitors.
type PrincipalType string

const (
	PrincipalLibrarian PrincipalType = "Librarian"
	PrincipalVisitor   PrincipalType = "Visitor"
)

// anonymousUID identifies the single Visitor entity.
const anonymousUID = "anonymous"

// Resource types known to the policies.
const (
	ResourceLibrary   = "Library"
	ResourceLibrarian = "Librarian"
	ResourceBook      = "Book"
	ResourceLoan      = "Loan"
)

// Principal represents the entity making the request.
type Principal struct {
	UID       string        // Librarian ID, or "anonymous"
	Type      PrincipalType // Librarian or Visitor
	Super     bool          // Super librarian of LibraryID
	LibraryID string        // Library the librarian belongs to; empty for visitors
}

// Anonymous returns the principal used for requests without a valid credential.
func Anonymous() Principal {
	return Principal{UID: anonymousUID, Type: PrincipalVisitor}
}

// IsAnonymous reports whether p is the visitor principal.
func (p Principal) IsAnonymous() bool {
	return p.Type == PrincipalVisitor
}

// Resource represents the entity being accessed.
type Resource struct {
	UID       string // Entity ID; for creates, a placeholder such as "new"
	Type      string // Library, Librarian, Book or Loan
	LibraryID string // Library the resource belongs to
	OwnerID   string // Owning librarian, books only
}

// AuthzRequest contains all information needed for an authorization decision.
type AuthzRequest struct {
	Principal Principal
	Action    string         // Fine-grained action (e.g., "book:update")
	Resource  Resource       // Target resource
	Context   map[string]any // Additional context: is_super for librarian:set_super
}

// AuthzDecision contains the result of an authorization check.
type AuthzDecision struct {
	Allowed  bool          // True if access is permitted
	Reason   string        // Human-readable explanation (for logging/audit)
	PolicyID string        // Policy that determined the outcome, if any
	Duration time.Duration // How long the authorization check took
}
