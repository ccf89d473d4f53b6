// Package api binds the usufruit operations to HTTP.
//
// Every route lives under /api/v1 except /health. Callers authenticate with
// a librarian secret key in an "Authorization: Bearer <secret>" header;
// requests without one are served as anonymous visitors, which is enough
// for public reads and for joining a library.
//
// # Endpoints
//
// Libraries:
//   - GET/POST /api/v1/libraries
//   - GET/PUT /api/v1/libraries/{libraryId}
//   - POST /api/v1/libraries/{libraryId}/login
//
// Librarians:
//   - GET/POST /api/v1/libraries/{libraryId}/librarians
//   - GET/PATCH/DELETE /api/v1/libraries/{libraryId}/librarians/{librarianId}
//
// Books and loans:
//   - GET/POST /api/v1/libraries/{libraryId}/books
//   - GET/PUT/DELETE /api/v1/libraries/{libraryId}/books/{bookId}
//   - GET/POST/PATCH /api/v1/libraries/{libraryId}/books/{bookId}/loans
//   - GET /api/v1/libraries/{libraryId}/loans
//
// Audit:
//   - GET /api/v1/libraries/{libraryId}/audit
//
// # Error Handling
//
// Errors are JSON objects {"error": message, "code": kind} with the status
// of their kind: not_found 404, unauthorized 401, forbidden 403, conflict
// 409, validation 400, dependency 503. Anything else is a 500 with a
// generic message; the detail stays in the server log.
package api
