// Package api exposes jobs, notifications and the live notification
// WebSocket over HTTP. Handlers translate requests into service calls and
// map service errors to status codes; they never touch a store directly.
package api
