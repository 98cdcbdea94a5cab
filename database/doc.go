// Package database provides connection management, declarative table models,
// DDL generation, schema synchronization, skip-index handling, introspection
// and model codegen, HTTP streaming ingestion, SQL initialization,
// configuration types, logging, and health checks built on top of the
// ClickHouse native protocol client.
package database
