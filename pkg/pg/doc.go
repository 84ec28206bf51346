// Package pg provides utilities for interacting with PostgreSQL using the
// pgx/v5 driver. It offers a thin abstraction around connection pooling,
// migrations, health checks, and common error helpers so that applications can
// bootstrap a resilient database layer with only a few lines of code.
//
// Connect opens a *pgxpool.Pool based on Config, retrying until the database
// becomes available. Migrate runs goose migrations against the same pool so
// the schema is up to date before the service starts serving traffic.
//
// All configuration values are provided through environment variables. Refer
// to the field tags in Config for exact variable names and defaults.
//
// Convenience helpers such as [IsDuplicateKeyError] and [IsNotFoundError]
// unwrap errors returned by pgx and make error classification trivial inside
// business logic.
package pg
