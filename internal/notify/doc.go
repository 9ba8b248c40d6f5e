// Package notify turns job terminal events into stored notifications and
// pushes them to the owner's live connections.
package notify
