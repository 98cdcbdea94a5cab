// Package repository provides a generic repository abstraction over the
// ClickHouse native protocol: a fluent SELECT builder, batch and async
// insert helpers, INSERT ... SELECT composition, and pagination.
package repository
