/*
Package store provides the coordination-store adapter every other
orchestration package is built on: a single Redis connection exposed
as typed KV/TTL, set, list, atomic-claim, and pub/sub operations.

# Design

Store wraps *redis.Client instead of exposing it directly so call
sites read as intent ("reserve this port", "append this message")
rather than raw Redis commands, and so every mutating call gets the
same bounded-retry treatment without repeating the backoff loop at
each call site.

# Retry Policy

Transport errors (connection reset, timeout) retry with exponential
backoff starting at 100ms and capped at 2s, up to 5 attempts, then
surface as a single orcherrors.StoreError. A miss (redis.Nil) is not
a transport error and is never retried — Get/TTL callers distinguish
"not found" from "store unavailable" with errors.Is(err, redis.Nil).

# Pub/Sub

Subscribe returns a Subscription wrapping a buffered byte channel; the
relay goroutine owns closing that channel once the underlying Redis
subscription drains, so Close never races a concurrent send.

# Usage

	s, err := store.NewClient(ctx, store.Config{Host: "localhost", Port: 6379}, logger)
	ok, err := s.SetNX(ctx, "port:desktop:6081", "1", 2*time.Hour)
	sub := s.Subscribe(ctx, "session:abc:messages")
	for payload := range sub.Bytes() {
		// handle payload
	}
	sub.Close()
*/
package store
