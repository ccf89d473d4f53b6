package authz

// Action constants, one per core operation.
const (
	ActionLibraryList   = "library:list"
	ActionLibraryRead   = "library:read"
	ActionLibraryCreate = "library:create"
	ActionLibraryUpdate = "library:update"

	ActionLibrarianRead          = "librarian:read"
	ActionLibrarianCreate        = "librarian:create"
	ActionLibrarianCreateSuper   = "librarian:create_super"
	ActionLibrarianSetSuper      = "librarian:set_super"
	ActionLibrarianUpdateDetails = "librarian:update_details"
	ActionLibrarianDelete        = "librarian:delete"

	ActionBookRead   = "book:read"
	ActionBookCreate = "book:create"
	ActionBookUpdate = "book:update"
	ActionBookDelete = "book:delete"

	ActionLoanRead   = "loan:read"
	ActionLoanBorrow = "loan:borrow"
	ActionLoanReturn = "loan:return"

	ActionSearchQuery = "search:query"

	ActionAuditRead = "audit:read"
)

// validActions is the set of all valid action strings.
// Unknown actions are denied without consulting the policies.
var validActions = map[string]bool{
	ActionLibraryList:            true,
	ActionLibraryRead:            true,
	ActionLibraryCreate:          true,
	ActionLibraryUpdate:          true,
	ActionLibrarianRead:          true,
	ActionLibrarianCreate:        true,
	ActionLibrarianCreateSuper:   true,
	ActionLibrarianSetSuper:      true,
	ActionLibrarianUpdateDetails: true,
	ActionLibrarianDelete:        true,
	ActionBookRead:               true,
	ActionBookCreate:             true,
	ActionBookUpdate:             true,
	ActionBookDelete:             true,
	ActionLoanRead:               true,
	ActionLoanBorrow:             true,
	ActionLoanReturn:             true,
	ActionSearchQuery:            true,
	ActionAuditRead:              true,
}

// ValidateAction returns true if the action is a known valid action.
func ValidateAction(action string) bool {
	return validActions[action]
}

// AllActions returns all valid action strings.
func AllActions() []string {
	actions := make([]string, 0, len(validActions))
	for a := range validActions {
		actions = append(actions, a)
	}
	return actions
}
