/*
Package ports implements the port allocator (C2): deterministic,
testable port assignment over a fixed range, backed by setnx claims in
the coordination store, with a background reaper for crash recovery.

# Allocation

Allocate scans linearly from Lo to Hi and attempts setnx at each port;
the first port that accepts the claim is returned. Linear (not random)
scanning is required by the spec so allocation order is deterministic
under test. A race loser on setnx simply advances to the next port —
there is no retry-with-backoff within a single scan.

# Release and Reclamation

Release deletes the port's key and is idempotent. Every claim also
carries PortLease (2h) as a safety TTL, so even a process that crashes
without calling Release eventually frees the port. The Reaper tightens
that window: on each tick it lists port:<kind>:* and deletes any entry
whose bound session is no longer live, via a caller-supplied
isSessionOf callback (reapers never decide session liveness — that is
the registry's job).
*/
package ports
