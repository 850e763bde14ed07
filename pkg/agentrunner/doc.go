// Package agentrunner isolates the controller and worker from the
// external agent collaborator's reasoning internals (out of scope per
// spec §1) behind a two-method interface plus a per-worker instance
// registry, the same shape the teacher uses to keep Worker decoupled
// from containerd: depend on the narrowest interface the caller needs,
// never the concrete implementation.
//
// # Lifecycle
//
// One Agent instance exists per session per worker process. Registry
// spawns it lazily on first use and tracks it by session id so a
// later ProcessMessage job on the same worker reuses the same
// instance rather than rebuilding one per prompt. Nothing here is
// persisted: if a worker restarts, every tracked instance is gone and
// the controller rehydrates by spawning a fresh one bound to the
// still-running sandbox's tool endpoint.
//
// # StubAgent
//
// StubAgent stands in for the real reasoning loop in tests and local
// development. It emits exactly one AgentThinking event followed by
// one AgentResponse event per Handle call and holds no per-session
// state, so Shutdown is a no-op.
package agentrunner
