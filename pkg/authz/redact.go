package authz

// SecretVisible reports whether a principal may see the secret key of the
// librarian targetID in library targetLibrary. Super librarians see every
// secret in their library; other librarians see only their own; visitors
// see none.
func SecretVisible(p Principal, targetID, targetLibrary string) bool {
	if p.IsAnonymous() || p.LibraryID != targetLibrary {
		return false
	}
	return p.Super || p.UID == targetID
}
