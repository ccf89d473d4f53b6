// Package store provides SQLite-based persistence for usufruit libraries.
//
// The store manages four domain entities and one log:
//
//   - Libraries: independent lending communities
//   - Librarians: members of a library, each holding a secret key
//   - Books: items owned by a librarian and lent within the library
//   - Loans: borrow records, at most one open per book
//   - Audit: append-only log of security-relevant events
//
// # Usage
//
// Open a store with [Open] and close it when done:
//
//	db, err := store.Open(store.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// # Atomic operations
//
// Operations whose correctness depends on a read followed by a write run in
// a single transaction: [Store.CreateLibraryWithLibrarian],
// [Store.BorrowBook], [Store.ReturnLoan], [Store.DeleteBook] and
// [Store.DeleteLibrarian]. Transactions begin IMMEDIATE, so two concurrent
// borrows of one book serialize and the second sees the first's loan. The
// partial unique index on open loans backs this up at the schema level.
//
// # Thread Safety
//
// The store is safe for concurrent use. SQLite WAL mode lets readers and
// a writer operate simultaneously.
package store
