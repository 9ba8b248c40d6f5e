// Package store defines the persistence contracts for jobs and notifications
// together with the shared error vocabulary and transaction helper used by
// the SQL backend.
//
// Backends live under internal/platform (postgres, redis, memory) and only
// implement raw record access. JobLifecycle layers the job state machine on
// top so every backend enforces the same transitions.
package store
