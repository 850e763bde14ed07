// Package worker implements the Worker Runtime (C8): a pool of
// goroutines draining the Work Queue (C5) and driving each claimed job
// through the Session Lifecycle Controller (C7), plus the
// registration heartbeat and graceful-stop sequence spec §4.8
// describes.
//
// # Registration
//
// On Start a worker writes worker:<id>:status = active with a 5-minute
// TTL and refreshes it every 60s from a background goroutine. An
// expired TTL implies the worker died without deregistering; sessions
// pinned to it recover through the controller's own redelivery and
// rehydration paths (§4.7.3), not anything this package does directly.
//
// # Consume loop
//
// Concurrency goroutines each loop: Dequeue, and on a claim, call
// Controller.HandleJob, then Complete or Fail depending on the
// outcome. An empty Dequeue backs off for a short poll interval rather
// than busy-looping.
//
// # Graceful stop
//
// Stop transitions the worker's status to stopping, closes the
// internal stop channel so every consumer and the heartbeat loop exit
// after their current iteration, waits (bounded) for in-flight jobs to
// finish, shuts down every agent instance still tracked on this
// worker, and deletes the registration key.
package worker
