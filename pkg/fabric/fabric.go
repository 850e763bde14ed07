// Package fabric implements the Message Fabric (C4): per-session fan-out
// of chat events to every local subscriber on every process in the
// fleet, with no double-delivery to a local subscriber.
package fabric

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// Callback is invoked once per delivered event for a subscription.
type Callback func(types.MessageEvent)

// Fabric is a direct generalization of pkg/events.Broker (per-process
// subscriber map + dispatch) bridged across processes via the store's
// pub/sub. Each Fabric instance owns one process-unique publisher id,
// stamped onto every event it publishes so the bridge can discard its
// own publications when they echo back on the store channel.
type Fabric struct {
	s           *store.Store
	publisherID string
	seq         uint64

	mu      sync.Mutex
	subs    map[string]map[int]Callback
	nextID  int
	bridges map[string]*bridge
	logger  zerolog.Logger
}

type bridge struct {
	sub *store.Subscription
}

// New constructs a Fabric over s.
func New(s *store.Store) *Fabric {
	return &Fabric{
		s:           s,
		publisherID: uuid.NewString(),
		subs:        make(map[string]map[int]Callback),
		bridges:     make(map[string]*bridge),
		logger:      log.WithComponent("fabric"),
	}
}

func channelName(sessionID string) string {
	return "session:" + sessionID + ":messages"
}

// Subscribe registers cb for every event published to sessionID, on
// this process or any other. The returned func unsubscribes.
func (f *Fabric) Subscribe(ctx context.Context, sessionID string, cb Callback) func() {
	f.mu.Lock()
	if f.subs[sessionID] == nil {
		f.subs[sessionID] = make(map[int]Callback)
	}
	id := f.nextID
	f.nextID++
	f.subs[sessionID][id] = cb

	if _, exists := f.bridges[sessionID]; !exists {
		f.bridges[sessionID] = f.startBridge(ctx, sessionID)
	}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[sessionID], id)
		if len(f.subs[sessionID]) == 0 {
			delete(f.subs, sessionID)
			if b, ok := f.bridges[sessionID]; ok {
				_ = b.sub.Close()
				delete(f.bridges, sessionID)
			}
		}
	}
}

// startBridge subscribes to the session's store channel and relays
// remote events (those not stamped with our own publisherID) to local
// subscribers. Caller must hold f.mu.
func (f *Fabric) startBridge(ctx context.Context, sessionID string) *bridge {
	sub := f.s.Subscribe(ctx, channelName(sessionID))
	b := &bridge{sub: sub}

	go func() {
		for payload := range sub.Bytes() {
			var evt types.MessageEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				f.logger.Warn().Err(err).Str("session_id", sessionID).Msg("discarding malformed fabric event")
				continue
			}
			if evt.PublisherID == f.publisherID {
				// Already delivered locally by Publish; skip the echo.
				metrics.EventsDroppedTotal.WithLabelValues(string(evt.Type)).Inc()
				continue
			}
			f.dispatchLocal(sessionID, evt)
		}
	}()

	return b
}

// Publish delivers evt to local subscribers of sessionID and publishes
// it on the store channel for subscribers on other processes. Store
// transport errors surface as PublishError but local delivery still
// happens (best-effort), per spec §4.4.
func (f *Fabric) Publish(ctx context.Context, sessionID string, evt types.MessageEvent) error {
	evt.PublisherID = f.publisherID
	evt.Seq = atomic.AddUint64(&f.seq, 1)

	f.dispatchLocal(sessionID, evt)
	metrics.EventsPublishedTotal.WithLabelValues(string(evt.Type)).Inc()

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.s.Publish(ctx, channelName(sessionID), data)
}

// dispatchLocal invokes every local subscriber of sessionID with evt.
// Each callback runs under recover so one failing subscriber never
// affects the others.
func (f *Fabric) dispatchLocal(sessionID string, evt types.MessageEvent) {
	f.mu.Lock()
	callbacks := make([]Callback, 0, len(f.subs[sessionID]))
	for _, cb := range f.subs[sessionID] {
		callbacks = append(callbacks, cb)
	}
	f.mu.Unlock()

	for _, cb := range callbacks {
		f.invoke(sessionID, cb, evt)
	}
}

func (f *Fabric) invoke(sessionID string, cb Callback, evt types.MessageEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().
				Str("session_id", sessionID).
				Interface("panic", r).
				Msg("fabric subscriber panicked")
		}
	}()
	cb(evt)
}

// SubscriberCount returns the number of local subscribers for sessionID.
func (f *Fabric) SubscriberCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[sessionID])
}
