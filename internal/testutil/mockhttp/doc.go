// Package mockhttp provides a builder for mock HTTP servers in tests of
// outbound HTTP code: the embedding service client and usufruitctl.
//
//	b := mockhttp.New()
//	capture := b.Capture()
//	url, done := b.
//		RequireBearer("sk_test").
//		RouteJSON("GET", "/api/v1/libraries/lib_1/books", 200, page).
//		APIError("DELETE", "/api/v1/libraries/lib_1/books/*", 409, "book is on loan", "conflict").
//		BuildURL()
//	defer done()
//
// Paths match exactly, or by prefix when the pattern ends in "*". Handlers
// run in the order they were added; the first one that answers wins.
package mockhttp
