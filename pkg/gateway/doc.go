// Package gateway implements the Frontend Gateway (C9) described in
// spec §4.9, §6.1 and §6.2: the HTTP surface for session lifecycle
// requests and the per-session chat WebSocket.
//
// # HTTP surface
//
// Handlers in handlers_session.go translate requests directly onto the
// Session Registry (C3) and Work Queue (C5): creating a session
// allocates a desktop port, writes the record, and enqueues its
// CreateSession job rather than provisioning the sandbox inline;
// terminating one enqueues a TerminateSession job and returns 202
// immediately, leaving the actual teardown to the Session Lifecycle
// Controller (C7) running on a worker.
//
// # Chat socket
//
// handleChat in chat.go upgrades to a WebSocket, subscribes to the
// session's Message Fabric (C4) channel, replays recent history, and
// then runs two loops concurrently: one forwarding fabric events to
// the client, one validating and enqueuing inbound prompts. A
// malformed inbound frame gets an Error event without closing the
// connection; a missing or terminated session closes it.
package gateway
