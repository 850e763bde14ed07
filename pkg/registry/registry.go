// Package registry implements the Session Registry (C3): the durable
// session record plus its derived streams (messages, logs, context),
// all TTL-bound so a session's keys expire together.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// DefaultSessionTimeout is the TTL applied to a session record when
// the caller doesn't request a specific one.
const DefaultSessionTimeout = time.Hour

// MaxLogEntries bounds session:logs:<id> per spec §4.3.
const MaxLogEntries = 1000

// Registry wraps *store.Store and implements every operation in
// spec §4.3 over the Session/MessageEvent/SessionLogEntry types.
type Registry struct {
	s *store.Store
}

// New constructs a Registry over s.
func New(s *store.Store) *Registry {
	return &Registry{s: s}
}

func sessionKey(id string) string       { return "session:" + id }
func messagesKey(id string) string      { return "session:messages:" + id }
func logsKey(id string) string          { return "session:logs:" + id }
func contextKey(id string) string       { return "session:context:" + id }
func byWorkerKey(workerID string) string { return "sessions:by-worker:" + workerID }

const sessionsIndexKey = "sessions:index"
const totalSessionsKey = "metrics:total_sessions"

// Create generates a session id, stores the record with
// status=Initializing, adds it to the index, and returns it. Fails
// with StoreError only.
func (r *Registry) Create(ctx context.Context, prompt, environment string, timeout time.Duration) (*types.Session, error) {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	now := time.Now()
	session := &types.Session{
		ID:            uuid.NewString(),
		Status:        types.SessionInitializing,
		InitialPrompt: prompt,
		Environment:   environment,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(timeout),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.StoreError, "marshal session", err)
	}

	if err := r.s.SetEX(ctx, sessionKey(session.ID), string(data), timeout); err != nil {
		return nil, err
	}
	if err := r.s.SAdd(ctx, sessionsIndexKey, session.ID); err != nil {
		return nil, err
	}
	if _, err := r.s.Incr(ctx, totalSessionsKey); err != nil {
		return nil, err
	}

	metrics.TotalSessions.Inc()
	metrics.ActiveSessions.WithLabelValues(string(session.Status)).Inc()

	return session, nil
}

// Get returns the session record for id, or (nil, nil) when absent.
func (r *Registry) Get(ctx context.Context, id string) (*types.Session, error) {
	data, err := r.s.Get(ctx, sessionKey(id))
	if err != nil {
		if isMiss(err) {
			return nil, nil
		}
		return nil, err
	}
	var session types.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, orcherrors.Wrap(orcherrors.StoreError, "unmarshal session", err)
	}
	return &session, nil
}

// Patch mutates fields of an existing Session in place; Update passes
// the current record to the patch function under a read-before-write.
type Patch func(*types.Session)

// Update applies patch to the session's current record while preserving
// its remaining TTL, and returns the updated record or (nil, nil) if
// the session is absent. If patch changes WorkerID, the session moves
// from the old worker's set to the new one.
func (r *Registry) Update(ctx context.Context, id string, patch Patch) (*types.Session, error) {
	ttl, err := r.s.TTL(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		return nil, nil
	}

	session, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	prevWorker := session.WorkerID
	prevStatus := session.Status
	patch(session)
	session.UpdatedAt = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.StoreError, "marshal session", err)
	}
	if err := r.s.SetEX(ctx, sessionKey(id), string(data), ttl); err != nil {
		return nil, err
	}

	if session.WorkerID != prevWorker {
		if prevWorker != "" {
			_ = r.s.SRem(ctx, byWorkerKey(prevWorker), id)
		}
		if session.WorkerID != "" {
			if err := r.s.SAdd(ctx, byWorkerKey(session.WorkerID), id); err != nil {
				return nil, err
			}
		}
	}

	if session.Status != prevStatus {
		metrics.ActiveSessions.WithLabelValues(string(prevStatus)).Dec()
		metrics.ActiveSessions.WithLabelValues(string(session.Status)).Inc()
		if session.Status.Terminal() {
			metrics.SessionTerminationsTotal.WithLabelValues(terminationReason(session)).Inc()
		}
	}

	return session, nil
}

func terminationReason(s *types.Session) string {
	if s.Status == types.SessionError {
		return "error"
	}
	return "terminated"
}

// SetStatus is a convenience wrapper around Update for the common case
// of transitioning status (and optionally recording an error message).
func (r *Registry) SetStatus(ctx context.Context, id string, status types.SessionStatus, errMsg string) (*types.Session, error) {
	return r.Update(ctx, id, func(s *types.Session) {
		s.Status = status
		if errMsg != "" {
			s.Error = errMsg
		}
	})
}

// Delete removes a session's record and every derived key, plus its
// worker-index entry if any. Returns false if the session didn't exist.
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	session, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}

	if session.WorkerID != "" {
		_ = r.s.SRem(ctx, byWorkerKey(session.WorkerID), id)
	}
	_ = r.s.SRem(ctx, sessionsIndexKey, id)
	_ = r.s.Del(ctx, messagesKey(id))
	_ = r.s.Del(ctx, logsKey(id))
	_ = r.s.Del(ctx, contextKey(id))
	if err := r.s.Del(ctx, sessionKey(id)); err != nil {
		return false, err
	}

	return true, nil
}

// AppendMessage appends evt to the session's chat stream and
// re-synchronizes the stream's TTL to the record's residual TTL.
func (r *Registry) AppendMessage(ctx context.Context, id string, evt types.MessageEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return orcherrors.Wrap(orcherrors.StoreError, "marshal message", err)
	}
	if err := r.s.RPush(ctx, messagesKey(id), string(data)); err != nil {
		return err
	}
	return r.resyncTTL(ctx, id, messagesKey(id))
}

// ReadMessages returns up to the last lastN messages for id, oldest
// first. lastN <= 0 returns the full stream.
func (r *Registry) ReadMessages(ctx context.Context, id string, lastN int) ([]types.MessageEvent, error) {
	start := int64(0)
	if lastN > 0 {
		start = -int64(lastN)
	}
	raw, err := r.s.LRange(ctx, messagesKey(id), start, -1)
	if err != nil {
		return nil, err
	}
	events := make([]types.MessageEvent, 0, len(raw))
	for _, item := range raw {
		var evt types.MessageEvent
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}

// AppendLog appends a log entry to the session's bounded log stream,
// enforcing the 1000-cap via ltrim, and re-syncs its TTL.
func (r *Registry) AppendLog(ctx context.Context, id string, level types.LogLevel, message string, meta map[string]string) error {
	entry := types.SessionLogEntry{
		Timestamp: time.Now().Unix(),
		Level:     level,
		Message:   message,
		Meta:      meta,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return orcherrors.Wrap(orcherrors.StoreError, "marshal log entry", err)
	}
	if err := r.s.RPush(ctx, logsKey(id), string(data)); err != nil {
		return err
	}
	if err := r.s.LTrim(ctx, logsKey(id), -MaxLogEntries, -1); err != nil {
		return err
	}
	return r.resyncTTL(ctx, id, logsKey(id))
}

// ReadLogs returns up to the last lastN log entries for id, oldest
// first. lastN <= 0 returns the full bounded stream.
func (r *Registry) ReadLogs(ctx context.Context, id string, lastN int) ([]types.SessionLogEntry, error) {
	start := int64(0)
	if lastN > 0 {
		start = -int64(lastN)
	}
	raw, err := r.s.LRange(ctx, logsKey(id), start, -1)
	if err != nil {
		return nil, err
	}
	entries := make([]types.SessionLogEntry, 0, len(raw))
	for _, item := range raw {
		var entry types.SessionLogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// resyncTTL re-applies the session record's residual TTL to a derived
// key, so a record whose TTL elapses takes its streams with it.
func (r *Registry) resyncTTL(ctx context.Context, id, key string) error {
	ttl, err := r.s.TTL(ctx, sessionKey(id))
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	return r.s.Expire(ctx, key, ttl)
}

// ListActive returns non-Terminated sessions, paginated by limit/offset.
func (r *Registry) ListActive(ctx context.Context, limit, offset int) ([]*types.Session, error) {
	ids, err := r.s.SMembers(ctx, sessionsIndexKey)
	if err != nil {
		return nil, err
	}

	active := make([]*types.Session, 0, len(ids))
	for _, id := range ids {
		session, err := r.Get(ctx, id)
		if err != nil || session == nil {
			continue
		}
		if session.Status == types.SessionTerminated {
			continue
		}
		active = append(active, session)
	}

	if offset >= len(active) {
		return []*types.Session{}, nil
	}
	end := len(active)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return active[offset:end], nil
}

// GetContext returns the opaque agent context blob for id, never
// parsed — spec's Open Question decision: context compression is out
// of scope, so this is stored/returned as bytes.
func (r *Registry) GetContext(ctx context.Context, id string) ([]byte, error) {
	data, err := r.s.Get(ctx, contextKey(id))
	if err != nil {
		if isMiss(err) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(data), nil
}

// SetContext stores the opaque agent context blob for id, re-syncing
// its TTL to the record's residual TTL.
func (r *Registry) SetContext(ctx context.Context, id string, blob []byte) error {
	if err := r.s.Set(ctx, contextKey(id), string(blob)); err != nil {
		return err
	}
	return r.resyncTTL(ctx, id, contextKey(id))
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
