// Package server implements the chat relay: WebSocket transport, the session
// registry binding connections to usernames, the bounded in-memory message
// store, room-scoped event fan-out, and the protocol state machine tying them
// together.
//
// The implementation is organized into specialized files for configuration,
// the hub, clients, the store and registry, the session handler, routing, and
// HTTP handlers to keep the codebase maintainable and testable as the project
// grows.
package server
