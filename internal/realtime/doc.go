// Package realtime tracks live client connections per user and fans
// messages out to them.
//
// The Registry is transport agnostic: it only needs a Channel that accepts
// an encoded payload. WSChannel is the WebSocket implementation; it owns
// framing, the outbound queue and heartbeats.
package realtime
