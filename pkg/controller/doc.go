// Package controller is the Session Lifecycle Controller (C7): the
// state machine driving a session through
// Initializing → (Ready → Running)* → Terminating → Terminated, with
// Error reachable from any non-terminal state.
//
// # Handlers
//
// HandleJob dispatches a dequeued job to one of three handlers:
//
//   - Create (create.go): records worker_id, reserves a tool port,
//     creates and starts the sandbox, waits for desktop readiness,
//     spawns the agent, and publishes readiness. Failure at any step
//     runs cleanupFailure, a superset of Terminate, best-effort and
//     independently try/caught per step.
//   - Process (process.go): publishes the UserPrompt event before
//     invoking the agent, rehydrating a fresh agent instance when none
//     is tracked for the session on this worker (a restarted worker
//     must not strand a still-running sandbox).
//   - Terminate (terminate.go): shuts down the local agent, stops then
//     removes the sandbox with a pause between the two, releases both
//     ports, marks the session Terminated, and schedules a delayed
//     purge of its keys.
//
// # Idempotence
//
// Because the Work Queue delivers at-least-once, every handler
// re-reads the session record before mutating it and treats a session
// already in the target state as a successful no-op rather than an
// error, per the job handlers' own idempotence notes.
//
// # Concurrency
//
// Controller holds no queue-polling loop itself; the Worker Runtime
// (C8) owns concurrency and calls HandleJob once per claimed job.
package controller
