// Package session keeps per-user subscription context and pending payment
// reservations. The Store interface is implemented in memory, on Redis and
// on Postgres; callers never depend on a concrete backend.
package session
