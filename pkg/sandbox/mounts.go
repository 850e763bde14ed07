package sandbox

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/containerd/containerd"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
)

// workspaceMount builds the bind mount <host>/ottobot-session-data/<sid>
// -> /workspace required by spec §4.6, adapted from the teacher's
// CreateContainerWithMounts mount-assembly code.
func (s *Supervisor) workspaceMount(sessionID string) specs.Mount {
	host := filepath.Join(s.cfg.HostDataRoot, "ottobot-session-data", sessionID)
	return specs.Mount{
		Source:      host,
		Destination: "/workspace",
		Type:        "bind",
		Options:     []string{"rbind"},
	}
}

// containerIP resolves a running task's container IP by entering its
// network namespace, the same nsenter-based approach the teacher's
// GetContainerIP uses.
func (s *Supervisor) containerIP(ctx context.Context, task containerd.Task) (string, error) {
	pid := task.Pid()
	if pid == 0 {
		return "", orcherrors.Wrap(orcherrors.SandboxError, "container task has no pid", nil)
	}

	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", orcherrors.Wrap(orcherrors.SandboxError, fmt.Sprintf("resolve container ip (output: %s)", string(output)), err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(parts[1])
		if err != nil {
			return "", orcherrors.Wrap(orcherrors.SandboxError, "parse container ip", err)
		}
		return ip.String(), nil
	}

	return "", orcherrors.Wrap(orcherrors.SandboxError, "no ip address found for sandbox container", nil)
}
