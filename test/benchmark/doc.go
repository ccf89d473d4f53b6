//go:build benchmark

// Package benchmark contains consolidated benchmarks for usufruit.
//
// Run with: go test -tags=benchmark -bench=. -benchmem ./test/benchmark/...
//
// Benchmarks are organized by component:
//   - store_bench_test.go: secret lookup, listing and the borrow/return cycle
//   - authz_bench_test.go: Cedar policy decisions
//   - search_bench_test.go: embedding, vector codec and cosine ranking
package benchmark
