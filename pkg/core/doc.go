// Package core is the transport-independent operation surface of usufruit:
// libraries, librarian lifecycle, books, the loan state machine, search and
// the audit trail.
//
// Every operation takes the acting identity (nil for anonymous callers) and
// follows the same order: validate input, resolve the referenced entities
// and their library scoping, then ask the authorizer. A reference that does
// not exist, or exists under a different library, is NotFound even when
// the caller would also be refused. Errors returned to callers are always
// *apperr.Error values.
package core
