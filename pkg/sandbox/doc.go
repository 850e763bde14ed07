/*
Package sandbox implements the Sandbox Supervisor (C6): the
containerd-backed desktop/tool container a session's agent runs in.

Generalizes the teacher's runtime.ContainerdRuntime (namespace
"ottobot" instead of "warren") from Warren's generic service Container
spec to the fixed shape spec §4.6 requires: one container per session
with env vars SESSION_ID/ENVIRONMENT/DESKTOP_PORT/TOOL_PORT, a bind
mount for its workspace, and host-published desktop (6080) and tool
(8080) ports.

# Lifecycle

Create builds the OCI spec and snapshot but does not start the task.
Start creates and starts the task, then resolves the container's IP
and publishes its two fixed ports via pkg/network's
HostPortPublisher. Stop sends SIGTERM, waits up to grace, escalates to
SIGKILL, and unpublishes the ports. Remove deletes the container and
its snapshot, optionally stopping it first. All four are idempotent:
operating on an already-stopped or already-removed sandbox is not an
error, matching the teacher's StopContainer/DeleteContainer idiom.

# Readiness

WaitForDesktop (readiness.go) polls the desktop port's /vnc.html over
HTTP once a second; any response at all — not just 2xx — proves the
iptables forward is live, since the VNC web client responds with a
real page only once the sandbox's own desktop service is up, but the
forward being reachable at all is the useful signal here. Built
directly on the teacher's health.HTTPChecker.

# Reaping

ReapStale walks every container in the "ottobot" namespace (same
ListContainers-based walk the teacher's reconciler does against its
tracked containers) and force-removes ones older than the given age,
catching sandboxes a crashed controller never cleaned up.

sandbox_test.go covers what needs no live daemon: containerID naming,
workspaceMount's path assembly, and WaitForDesktop against an httptest
server. The containerd- and iptables-backed operations (Create, Start,
Stop, Remove, Status, ReapStale) have no unit tests, since they need a
live containerd socket and root-level iptables access.
*/
package sandbox
