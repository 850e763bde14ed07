/*
Package types defines the core data structures shared across the
session orchestration plane.

This package contains the domain model consumed by every other
package: sessions, chat events, session logs, sandbox descriptors,
queue jobs, and worker registration entries. None of these types
carry behavior beyond what Go gives structs and typed string
constants for free; all state transitions live in pkg/controller.

# Core Types

Session — the durable record owned by the Session Registry:
  - Session: identity, status, ports, sandbox/worker ownership, TTL bounds
  - SessionStatus: Initializing, Ready, Running, Terminating, Terminated, Error

Chat channel:
  - MessageEvent: typed event with optional metadata, stamped with
    (PublisherID, Seq) for the Message Fabric's dedup filter
  - EventType: UserPrompt, AgentThinking, AgentAction, AgentResponse,
    SystemUpdate, DownloadReady, Error

Session logs:
  - SessionLogEntry: one entry in a session's bounded (1000-cap) log stream

Sandbox:
  - SandboxDescriptor: opaque handle returned by the Sandbox Supervisor

Work queue:
  - Job: a unit of dispatched work
  - JobKind: CreateSession, TerminateSession, ProcessMessage

Worker registration:
  - WorkerEntry: TTL-bounded heartbeat record

# Design Patterns

Enums are typed string constants, matching the rest of the codebase's
idiom. Optional fields use Go's zero value (empty string / zero time)
rather than pointers, except EventMetadata which is only attached when
at least one optional field is set.

# Thread Safety

All types here are plain data; nothing in this package is safe to
mutate concurrently without an external lock (or the copy-on-read
discipline pkg/registry uses via JSON marshal/unmarshal on every
store round-trip).
*/
package types
