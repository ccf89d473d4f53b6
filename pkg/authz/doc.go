// Package authz provides Cedar-based authorization for usufruit.
//
// This package is the single source of truth for access decisions. Callers
// resolve and scope the target resource first (so a missing or foreign
// resource is reported as not found), then ask the Authorizer.
//
// # Principal Model
//
//   - Visitor::"anonymous": unauthenticated callers; may read, found a
//     library, and self-register as a regular librarian
//   - Librarian: may borrow and return within their library, edit their own
//     details, and manage books assigned to them
//   - Librarian with super: additionally administers everything in their
//     own library
//
// Two forbid policies hold regardless of privilege: a librarian cannot
// delete themselves, and cannot clear their own super flag.
//
// # Usage
//
//	authorizer, err := authz.NewAuthorizer(authz.DefaultConfig())
//
//	req := authz.AuthzRequest{
//		Principal: authz.Principal{UID: "lbr_1", Type: authz.PrincipalLibrarian, LibraryID: "lib_1"},
//		Action:    authz.ActionBookUpdate,
//		Resource:  authz.Resource{UID: "bk_1", Type: authz.ResourceBook, LibraryID: "lib_1", OwnerID: "lbr_1"},
//	}
//	if err := authz.DenialError(req, authorizer.Authorize(ctx, req)); err != nil {
//		return err
//	}
//
// # Redaction
//
// Secret keys are filtered by [SecretVisible], applied identically to
// single-record and list responses.
//
// # Thread Safety
//
// Authorizer is safe for concurrent use. The underlying Cedar PolicySet
// is immutable after construction.
package authz
