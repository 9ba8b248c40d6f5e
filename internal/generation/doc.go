// Package generation wraps calls to an external text-completion service.
//
// A Client composes a provider transport (Completer) with a TokenBudget that
// delays calls once the per-window budget is spent and a Retrier that
// repeats calls failing with a retryable error. Provider packages under
// internal/platform classify their failures with the sentinel errors in
// errors.go so the retry policy stays provider independent.
package generation
