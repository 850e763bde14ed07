/*
Package network provides host port publishing for sandbox containers
using iptables.

Sandboxes run with a containerd-managed network namespace that isn't
directly reachable from outside the host, so the desktop (6080) and
tool (8080) ports a session's agent container listens on are forwarded
from fixed host ports via iptables DNAT, POSTROUTING MASQUERADE, and a
FORWARD accept rule — the same three-rule-per-port lifecycle the
teacher's host-mode service publishing used, retargeted from an
arbitrary port list to the sandbox's fixed desktop/tool pair.

# Architecture

	┌────────────────── HOST PORT PUBLISHING ──────────────────┐
	│  Client → Host:<desktop_port>                             │
	│    PREROUTING (nat): DNAT to <container_ip>:6080           │
	│    FORWARD (filter): ACCEPT                                │
	│    POSTROUTING (nat): MASQUERADE                           │
	│  → Container sandbox receives the connection on 6080       │
	└────────────────────────────────────────────────────────────┘

# Core Components

HostPortPublisher tracks the PortBinding set published per sandbox id
so UnpublishPorts can tear down exactly what was created, and rolls
back any already-created rule if a later one in the same call fails.

# Usage

	publisher := network.NewHostPortPublisher()
	ports := []network.PortBinding{
		{HostPort: desktopPort, ContainerPort: 6080, Protocol: "tcp"},
		{HostPort: toolPort, ContainerPort: 8080, Protocol: "tcp"},
	}
	if err := publisher.PublishPorts(sandboxID, containerIP, ports); err != nil {
		return err
	}
	// ... sandbox runs ...
	_ = publisher.UnpublishPorts(sandboxID)

# Error Handling

Rule creation errors are returned immediately after rolling back
whatever was already created in the same call; cleanup errors on
unpublish are intentionally ignored (rules are removed on node
restart regardless, and a missing rule during delete is not an error).

# Limitations

No port conflict detection (the port allocator upstream is relied on
for that), IPv4 only, host mode only — there is no ingress/VIP mode
since sandboxes are single-instance per session.

# See Also

  - pkg/sandbox for sandbox lifecycle and container IP retrieval
  - pkg/ports for host port allocation
*/
package network
