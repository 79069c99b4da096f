// Package dbtest runs the reflector's backing stores in throwaway Docker
// containers for tests: Neo4j for the graph and Redis for the tenant cache.
//
// Every Setup function skips its test in short mode, marks it parallel, and
// terminates the container during cleanup. To keep the container of a failed
// test around for inspection, run:
//
//	go test ./... -dbtest.inspect
//
// Tests that need a customised store should use testcontainers-go directly.
package dbtest
