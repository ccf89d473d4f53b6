package authz

import "github.com/eflynch/usufruit/pkg/apperr"

// DenialError converts a denied decision into the caller-facing error kind.
// Anonymous principals get Unauthorized, since a credential might have
// changed the outcome; librarians get Forbidden.
// Returns nil for allowed decisions.
func DenialError(req AuthzRequest, d AuthzDecision) error {
	if d.Allowed {
		return nil
	}
	if req.Principal.IsAnonymous() {
		return apperr.Unauthorized("authentication required to %s", describe(req.Action))
	}
	return apperr.Forbidden("not permitted to %s", describe(req.Action))
}

// describe renders an action as a short phrase for error messages.
func describe(action string) string {
	if phrase, ok := actionPhrases[action]; ok {
		return phrase
	}
	return action
}

var actionPhrases = map[string]string{
	ActionLibraryUpdate:          "modify this library",
	ActionLibrarianCreateSuper:   "create a super librarian",
	ActionLibrarianSetSuper:      "change super librarian status",
	ActionLibrarianUpdateDetails: "update this librarian",
	ActionLibrarianDelete:        "delete this librarian",
	ActionBookCreate:             "add this book",
	ActionBookUpdate:             "update this book",
	ActionBookDelete:             "delete this book",
	ActionLoanBorrow:             "borrow from this library",
	ActionLoanReturn:             "return loans in this library",
	ActionAuditRead:              "read the audit log",
}
