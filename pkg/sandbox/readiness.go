package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/health"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
)

// DesktopReadinessTimeout is the default deadline for WaitForDesktop.
const DesktopReadinessTimeout = 30 * time.Second

var desktopPollInterval = time.Second

// WaitForDesktop polls http://<host>:<desktopPort>/vnc.html once a
// second until any HTTP response is observed (the presence of a
// response proves the port's iptables forward is up, regardless of
// status code) or max elapses, per spec §4.6. Built directly on the
// teacher's health.HTTPChecker.
func (s *Supervisor) WaitForDesktop(ctx context.Context, host string, desktopPort int, max time.Duration) error {
	if max <= 0 {
		max = DesktopReadinessTimeout
	}
	start := time.Now()
	defer func() { metrics.SandboxReadinessDuration.Observe(time.Since(start).Seconds()) }()

	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:%d/vnc.html", host, desktopPort)).
		WithMethod("HEAD").
		WithStatusRange(100, 599). // any response proves the proxy is up
		WithTimeout(desktopPollInterval)

	deadline := start.Add(max)
	ticker := time.NewTicker(desktopPollInterval)
	defer ticker.Stop()

	for {
		if checker.Check(ctx).Healthy {
			return nil
		}
		if time.Now().After(deadline) {
			return orcherrors.Wrap(orcherrors.ReadinessTimeout, "desktop did not become ready", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
