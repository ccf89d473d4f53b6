// Package bearer authenticates HTTP callers by librarian secret key.
//
// Callers present their key as "Authorization: Bearer <secret>". The
// middleware resolves the key to an [Identity] and stores it in the request
// context. Requests without a credential, and requests whose credential
// matches no librarian, proceed as anonymous; whether anonymous access is
// acceptable is decided by authorization further down.
//
// Secrets are capability tokens. They are generated from crypto/rand,
// compared in constant time, and never written to logs or audit events;
// a short BLAKE3 [Fingerprint] stands in for them where correlation is
// needed.
package bearer
