// Package ports implements the port allocator (C2): two independent
// allocators, one for desktop ports and one for tool ports, plus a
// background reaper that reclaims leases a crashed worker never
// released.
package ports

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
)

// PortLease is the default safety TTL applied to a port reservation so
// a crashed holder's port is eventually reclaimed even without a reaper.
const PortLease = 2 * time.Hour

// Allocator hands out ports from [Lo, Hi] for a single kind ("desktop"
// or "tool"), backed by setnx claims in the coordination store.
type Allocator struct {
	kind string
	lo   int
	hi   int
	s    *store.Store
}

// NewAllocator constructs an Allocator over the inclusive range [lo, hi].
func NewAllocator(s *store.Store, kind string, lo, hi int) *Allocator {
	return &Allocator{kind: kind, lo: lo, hi: hi, s: s}
}

func (a *Allocator) key(port int) string {
	return fmt.Sprintf("port:%s:%d", a.kind, port)
}

// Allocate performs the spec's deterministic linear scan from Lo to Hi,
// attempting setnx at each port. Returns 0, nil when the range is
// exhausted (not an error — callers map this to ResourceExhausted).
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	for p := a.lo; p <= a.hi; p++ {
		ok, err := a.s.SetNX(ctx, a.key(p), "1", PortLease)
		if err != nil {
			return 0, orcherrors.Wrap(orcherrors.StoreError, "allocate port", err)
		}
		if ok {
			metrics.PortsAllocated.WithLabelValues(a.kind).Inc()
			return p, nil
		}
		// Race loser: advance to the next port, no retry on this one.
	}
	return 0, nil
}

// Release frees port. Idempotent: releasing an already-free port is
// not an error.
func (a *Allocator) Release(ctx context.Context, port int) error {
	if err := a.s.Del(ctx, a.key(port)); err != nil {
		return err
	}
	metrics.PortsAllocated.WithLabelValues(a.kind).Dec()
	return nil
}

// Reaper periodically scans for leases whose TTL never gets refreshed
// by an owning session, per spec §4.2. In practice PORT_LEASE's TTL
// already guarantees eventual reclamation; the reaper only tightens
// the window when sessions terminate cleanly but the worker crashes
// before calling Release.
type Reaper struct {
	allocators  []*Allocator
	s           *store.Store
	interval    time.Duration
	isSessionOf func(ctx context.Context, port int) (sessionLive bool, err error)
	stopCh      chan struct{}
}

// NewReaper builds a Reaper sweeping every allocator in allocators on
// interval. isSessionOf reports whether a session still holding the
// port is live (cmd/ottobot counts every session that is not
// Terminated); the reaper deletes the port's key when it is not.
func NewReaper(s *store.Store, interval time.Duration, isSessionOf func(ctx context.Context, port int) (bool, error), allocators ...*Allocator) *Reaper {
	return &Reaper{
		allocators:  allocators,
		s:           s,
		interval:    interval,
		isSessionOf: isSessionOf,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the reaper's ticker loop in a goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop halts the reaper loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reaper) sweep() {
	ctx := context.Background()
	for _, a := range r.allocators {
		pattern := fmt.Sprintf("port:%s:*", a.kind)
		keys, err := r.s.Keys(ctx, pattern)
		if err != nil {
			continue
		}
		for _, k := range keys {
			port, ok := portFromKey(k, a.kind)
			if !ok {
				continue
			}
			live, err := r.isSessionOf(ctx, port)
			if err != nil {
				continue
			}
			if !live {
				if err := r.s.Del(ctx, k); err == nil {
					metrics.PortsAllocated.WithLabelValues(a.kind).Dec()
					metrics.PortsReaped.WithLabelValues(a.kind).Inc()
				}
			}
		}
	}
}

func portFromKey(key, kind string) (int, bool) {
	prefix := "port:" + kind + ":"
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	p, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
	if err != nil {
		return 0, false
	}
	return p, true
}
