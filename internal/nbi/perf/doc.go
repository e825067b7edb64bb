// Package perf hosts opt-in benchmarks for the mount service on large
// configurations.
//
// The benchmarks are behind build tags (`perf`, `perf_large`) so they stay
// out of default test runs; this file keeps the package visible to editors
// and `go list`.
package perf
