/*
Package fabric implements the Message Fabric (C4): delivering chat
events published by any process to every subscriber of a session, on
any process, exactly once each.

# Design

Each Fabric owns a process-unique publisher id and a local subscriber
map, directly generalizing pkg/events.Broker's per-process fan-out. A
session with at least one local subscriber also has a "bridge": a
goroutine relaying the store's pub/sub channel (session:<id>:messages)
into dispatchLocal. The bridge is created on the first local subscribe
for a session and torn down on the last unsubscribe, so sessions with
no local listener cost nothing beyond the subscriber map entry.

# No Double Delivery

Publish stamps the outgoing event with the Fabric's own publisher id,
dispatches it to local subscribers directly, and then publishes it on
the store channel for subscribers on other processes. The bridge's
receive loop drops any incoming event whose publisher id matches its
own Fabric's id, since that event was already delivered by the Publish
call that produced it — this is what prevents a publisher's own event
from being delivered twice to its local subscribers.

# Ordering and Failures

Events observed by one subscriber are in the order its owning Fabric
called Publish; there is no cross-process ordering guarantee. A store
transport failure on the outbound Publish surfaces as PublishError, but
local delivery has already happened by that point and is unaffected. A
panicking subscriber callback is recovered and logged; it never stops
delivery to the other subscribers of the same event.
*/
package fabric
