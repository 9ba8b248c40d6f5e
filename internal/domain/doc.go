// Package domain contains the core entities of the job service: the Job with
// its status state machine and the Notification created when a job finishes.
//
// Types here have no dependencies on storage or transport. Transitions are
// pure methods so every store backend enforces the same rules.
package domain
