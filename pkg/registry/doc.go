/*
Package registry implements the Session Registry (C3): the durable
session record and its derived streams (messages, logs, context), all
TTL-bound to the record so a session's keys expire together.

# Keys

  - session:<id> -> JSON Session record, TTL = session timeout (default 1h)
  - sessions:index -> set of all session ids
  - sessions:by-worker:<wid> -> set of session ids owned by a worker
  - session:messages:<id> -> append-only MessageEvent list
  - session:logs:<id> -> bounded (<=1000) SessionLogEntry list
  - session:context:<id> -> opaque agent context blob
  - metrics:total_sessions -> monotonic counter

# TTL Discipline

Update reads the record's residual TTL before mutating it and rewrites
with the same TTL via SetEX, so patches never reset (or advance) a
session's expiry. AppendMessage/AppendLog/SetContext re-synchronize
their derived key's TTL to the record's residual TTL after every
write (resyncTTL), mirroring the read-modify-write-with-residual-TTL
discipline the teacher uses for Raft-log compaction bookkeeping,
generalized to a single-record read/write instead of a replicated log
entry. A record whose TTL elapses takes all derived streams with it
implicitly, and resyncTTL makes the explicit window match it exactly.

# Worker Reassignment

Update detects a WorkerID change (including clearing it) and moves the
session id between sessions:by-worker:<old> and
sessions:by-worker:<new> as part of the same call, so the registry
never has to be called twice to keep indexes consistent.
*/
package registry
