package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// registrationTTL is the TTL on worker:<id>:status; an expired TTL
// implies the worker is dead (spec §4.8).
const registrationTTL = 5 * time.Minute

// heartbeatInterval is how often the TTL is refreshed while active.
const heartbeatInterval = 60 * time.Second

func statusKey(id string) string { return "worker:" + id + ":status" }

// register writes the initial active worker:<id>:status entry.
func (w *Worker) register(ctx context.Context) error {
	return w.writeEntry(ctx, types.WorkerActive)
}

// setStatus updates the worker's status entry in place, preserving
// the registration TTL.
func (w *Worker) setStatus(ctx context.Context, status types.WorkerStatus) error {
	return w.writeEntry(ctx, status)
}

func (w *Worker) writeEntry(ctx context.Context, status types.WorkerStatus) error {
	entry := types.WorkerEntry{WorkerID: w.id, Status: status, LastHeartbeat: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return orcherrors.Wrap(orcherrors.StoreError, "marshal worker entry", err)
	}
	return w.s.SetEX(ctx, statusKey(w.id), string(data), registrationTTL)
}

// deregister deletes the worker's status entry on graceful stop.
func (w *Worker) deregister(ctx context.Context) error {
	return w.s.Del(ctx, statusKey(w.id))
}

// heartbeatLoop refreshes the registration TTL every heartbeatInterval
// so a crashed worker's entry expires rather than lingering forever.
func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.s.Expire(context.Background(), statusKey(w.id), registrationTTL); err != nil {
				w.logger.Error().Err(err).Msg("heartbeat refresh failed")
			}
		case <-w.stopCh:
			return
		}
	}
}
