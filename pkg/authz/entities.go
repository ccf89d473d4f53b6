package authz

import "github.com/cedar-policy/cedar-go"

// principalEntityUID returns the Cedar UID for a principal.
func principalEntityUID(p Principal) cedar.EntityUID {
	return cedar.NewEntityUID(cedar.EntityType(p.Type), cedar.String(p.UID))
}

// librarianUID returns the Cedar UID for a librarian ID.
func librarianUID(id string) cedar.EntityUID {
	return cedar.NewEntityUID(cedar.EntityType(PrincipalLibrarian), cedar.String(id))
}

// NewPrincipalEntity constructs the Cedar entity for a principal. Every
// principal carries `super` and `library`, so policies can read them without
// a `has` guard.
func NewPrincipalEntity(p Principal) cedar.Entity {
	return cedar.Entity{
		UID:     principalEntityUID(p),
		Parents: cedar.NewEntityUIDSet(),
		Attributes: cedar.NewRecord(cedar.RecordMap{
			"super":   cedar.Boolean(p.Super && !p.IsAnonymous()),
			"library": cedar.String(p.LibraryID),
		}),
	}
}

// NewResourceEntity constructs the Cedar entity for a resource. Books also
// carry an `owner` entity reference.
func NewResourceEntity(r Resource) cedar.Entity {
	attrs := cedar.RecordMap{
		"library": cedar.String(r.LibraryID),
	}
	if r.Type == ResourceBook {
		attrs["owner"] = librarianUID(r.OwnerID)
	}
	return cedar.Entity{
		UID:        cedar.NewEntityUID(cedar.EntityType(r.Type), cedar.String(r.UID)),
		Parents:    cedar.NewEntityUIDSet(),
		Attributes: cedar.NewRecord(attrs),
	}
}

// buildEntities constructs the Cedar EntityMap from principal and resource.
// When a librarian acts on their own record the principal entity is kept.
func buildEntities(principal Principal, resource Resource) cedar.EntityMap {
	entities := cedar.EntityMap{}

	p := NewPrincipalEntity(principal)
	entities[p.UID] = p

	r := NewResourceEntity(resource)
	if _, exists := entities[r.UID]; !exists {
		entities[r.UID] = r
	}
	return entities
}

// buildCedarRequest constructs the Cedar request from an AuthzRequest.
func buildCedarRequest(req AuthzRequest) cedar.Request {
	contextMap := cedar.RecordMap{}
	if isSuper, ok := req.Context["is_super"].(bool); ok {
		contextMap["is_super"] = cedar.Boolean(isSuper)
	}

	return cedar.Request{
		Principal: principalEntityUID(req.Principal),
		Action:    cedar.NewEntityUID("Action", cedar.String(req.Action)),
		Resource:  cedar.NewEntityUID(cedar.EntityType(req.Resource.Type), cedar.String(req.Resource.UID)),
		Context:   cedar.NewRecord(contextMap),
	}
}
