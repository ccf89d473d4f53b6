// Package audit records security-relevant events: authentication failures,
// privilege changes, librarian lifecycle and circulation. Events fan out to
// the SQLite audit table and, optionally, to the local syslog daemon as
// RFC 5424 messages.
//
// Events never carry secret keys. Authentication failures identify the
// presented credential only by a short fingerprint.
package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityEmergency Severity = 0
	SeverityAlert     Severity = 1
	SeverityCritical  Severity = 2
	SeverityError     Severity = 3
	SeverityWarning   Severity = 4
	SeverityNotice    Severity = 5
	SeverityInfo      Severity = 6
	SeverityDebug     Severity = 7
)

var severityNames = [...]string{"EMERGENCY", "ALERT", "CRITICAL", "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG"}

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

// EventType identifies an audit event.
type EventType string

const (
	EventAuthSuccess       EventType = "auth.success"
	EventAuthFailure       EventType = "auth.failure"
	EventAuthzDenied       EventType = "authz.denied"
	EventLibraryCreated    EventType = "library.created"
	EventLibraryUpdated    EventType = "library.updated"
	EventLibrarianCreated  EventType = "librarian.created"
	EventLibrarianUpdated  EventType = "librarian.updated"
	EventLibrarianPromoted EventType = "librarian.promoted"
	EventLibrarianDemoted  EventType = "librarian.demoted"
	EventLibrarianDeleted  EventType = "librarian.deleted"
	EventBookDeleted       EventType = "book.deleted"
	EventLoanBorrowed      EventType = "loan.borrowed"
	EventLoanReturned      EventType = "loan.returned"
)

// AllEventTypes returns every defined event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventAuthSuccess,
		EventAuthFailure,
		EventAuthzDenied,
		EventLibraryCreated,
		EventLibraryUpdated,
		EventLibrarianCreated,
		EventLibrarianUpdated,
		EventLibrarianPromoted,
		EventLibrarianDemoted,
		EventLibrarianDeleted,
		EventBookDeleted,
		EventLoanBorrowed,
		EventLoanReturned,
	}
}

var severityMap = map[EventType]Severity{
	EventAuthSuccess:       SeverityInfo,
	EventAuthFailure:       SeverityWarning,
	EventAuthzDenied:       SeverityWarning,
	EventLibraryCreated:    SeverityNotice,
	EventLibraryUpdated:    SeverityNotice,
	EventLibrarianCreated:  SeverityNotice,
	EventLibrarianUpdated:  SeverityInfo,
	EventLibrarianPromoted: SeverityWarning,
	EventLibrarianDemoted:  SeverityWarning,
	EventLibrarianDeleted:  SeverityWarning,
	EventBookDeleted:       SeverityNotice,
	EventLoanBorrowed:      SeverityInfo,
	EventLoanReturned:      SeverityInfo,
}

// SeverityFor returns the syslog severity for an event type. Unknown types
// are treated as warnings.
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event is a structured audit event.
type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	LibraryID string
	ActorID   string // Acting librarian; empty for anonymous callers
	TargetID  string // Entity acted upon
	IP        string
	RequestID string
	Details   map[string]string
}

func newEvent(et EventType, libraryID, actorID, targetID, requestID string, details map[string]string) Event {
	if details == nil {
		details = map[string]string{}
	}
	return Event{
		Type:      et,
		Severity:  SeverityFor(et),
		Timestamp: time.Now().UTC(),
		LibraryID: libraryID,
		ActorID:   actorID,
		TargetID:  targetID,
		RequestID: requestID,
		Details:   details,
	}
}

// NewAuthSuccess records a successful login check.
func NewAuthSuccess(libraryID, librarianID, ip, requestID string) Event {
	ev := newEvent(EventAuthSuccess, libraryID, librarianID, librarianID, requestID, nil)
	ev.IP = ip
	return ev
}

// NewAuthFailure records a rejected credential. fingerprint identifies the
// presented secret without revealing it.
func NewAuthFailure(libraryID, fingerprint, ip, reason, method, path, requestID string) Event {
	ev := newEvent(EventAuthFailure, libraryID, "", "", requestID, map[string]string{
		"fingerprint": fingerprint,
		"reason":      reason,
		"method":      method,
		"path":        path,
	})
	ev.IP = ip
	return ev
}

// NewAuthzDenied records a request refused by policy.
func NewAuthzDenied(libraryID, actorID, action, resourceID, policyID, requestID string) Event {
	details := map[string]string{"action": action}
	if policyID != "" {
		details["policy_id"] = policyID
	}
	return newEvent(EventAuthzDenied, libraryID, actorID, resourceID, requestID, details)
}

// NewLibraryCreated records a new library. firstLibrarianID is empty when
// the library was created without one.
func NewLibraryCreated(libraryID, firstLibrarianID, requestID string) Event {
	details := map[string]string{}
	if firstLibrarianID != "" {
		details["first_librarian_id"] = firstLibrarianID
	}
	return newEvent(EventLibraryCreated, libraryID, "", libraryID, requestID, details)
}

// NewLibraryUpdated records a metadata change by a super librarian.
func NewLibraryUpdated(libraryID, actorID, requestID string) Event {
	return newEvent(EventLibraryUpdated, libraryID, actorID, libraryID, requestID, nil)
}

// NewLibrarianCreated records a new librarian. actorID is empty for public
// sign-up.
func NewLibrarianCreated(libraryID, actorID, librarianID string, isSuper bool, requestID string) Event {
	return newEvent(EventLibrarianCreated, libraryID, actorID, librarianID, requestID, map[string]string{
		"is_super": strconv.FormatBool(isSuper),
	})
}

// NewLibrarianUpdated records a change to a librarian's name or contact.
func NewLibrarianUpdated(libraryID, actorID, librarianID, requestID string) Event {
	return newEvent(EventLibrarianUpdated, libraryID, actorID, librarianID, requestID, nil)
}

// NewSuperStatusChanged records a promotion or demotion together with the
// super librarian who made it.
func NewSuperStatusChanged(libraryID, actorID, librarianID string, isSuper bool, requestID string) Event {
	et := EventLibrarianDemoted
	if isSuper {
		et = EventLibrarianPromoted
	}
	return newEvent(et, libraryID, actorID, librarianID, requestID, nil)
}

// Deletion dispositions.
const (
	DispositionNone     = "none"
	DispositionReassign = "reassign"
	DispositionCascade  = "cascade"
)

// NewLibrarianDeleted records a librarian removal and what happened to the
// librarian's books and loans.
func NewLibrarianDeleted(libraryID, actorID, librarianID, disposition, reassignTo string, books, loans int, requestID string) Event {
	details := map[string]string{
		"disposition": disposition,
		"books":       strconv.Itoa(books),
		"loans":       strconv.Itoa(loans),
	}
	if reassignTo != "" {
		details["reassign_to"] = reassignTo
	}
	return newEvent(EventLibrarianDeleted, libraryID, actorID, librarianID, requestID, details)
}

// NewBookDeleted records a book removal.
func NewBookDeleted(libraryID, actorID, bookID, title, requestID string) Event {
	return newEvent(EventBookDeleted, libraryID, actorID, bookID, requestID, map[string]string{
		"title": title,
	})
}

// NewLoanBorrowed records a checkout. The actor may borrow on behalf of
// another librarian.
func NewLoanBorrowed(libraryID, actorID, loanID, bookID, borrowerID string, due *time.Time, requestID string) Event {
	details := map[string]string{
		"book_id":  bookID,
		"borrower": borrowerID,
	}
	if due != nil {
		details["due_date"] = due.UTC().Format(time.DateOnly)
	}
	return newEvent(EventLoanBorrowed, libraryID, actorID, loanID, requestID, details)
}

// NewLoanReturned records a return.
func NewLoanReturned(libraryID, actorID, loanID, bookID, requestID string) Event {
	return newEvent(EventLoanReturned, libraryID, actorID, loanID, requestID, map[string]string{
		"book_id": bookID,
	})
}
