package network

import (
	"fmt"
	"os/exec"
	"strings"
)

// PortBinding is one host-port-to-container-port forward. Sandboxes
// always publish exactly the fixed desktop/tool pair (spec §4.6); this
// type replaces the teacher's types.PortMapping (which also carried a
// PublishMode, since Warren supported both overlay and host modes —
// sandboxes are host-mode only, so that field is dropped).
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp", defaults to "tcp"
}

// HostPortPublisher manages host mode port publishing using iptables.
type HostPortPublisher struct {
	publishedPorts map[string][]PortBinding // sandboxID -> ports
}

// NewHostPortPublisher creates a new host port publisher.
func NewHostPortPublisher() *HostPortPublisher {
	return &HostPortPublisher{
		publishedPorts: make(map[string][]PortBinding),
	}
}

// PublishPorts sets up iptables rules forwarding host ports to the
// sandbox's container ports on containerIP.
func (p *HostPortPublisher) PublishPorts(sandboxID, containerIP string, ports []PortBinding) error {
	if len(ports) == 0 {
		return nil
	}

	for _, port := range ports {
		if err := p.setupPortForwarding(containerIP, port); err != nil {
			p.cleanupPorts(sandboxID, ports)
			return fmt.Errorf("failed to setup port forwarding for %d:%d: %w",
				port.HostPort, port.ContainerPort, err)
		}
	}

	p.publishedPorts[sandboxID] = ports
	return nil
}

// UnpublishPorts removes iptables rules for a sandbox's published ports.
func (p *HostPortPublisher) UnpublishPorts(sandboxID string) error {
	ports, ok := p.publishedPorts[sandboxID]
	if !ok {
		return nil
	}
	return p.cleanupPorts(sandboxID, ports)
}

// setupPortForwarding creates the DNAT/MASQUERADE/FORWARD rule set for
// one port binding: host_ip:host_port -> container_ip:container_port.
func (p *HostPortPublisher) setupPortForwarding(containerIP string, port PortBinding) error {
	protocol := strings.ToLower(port.Protocol)
	if protocol == "" {
		protocol = "tcp"
	}

	dnatRule := []string{
		"-t", "nat",
		"-A", "PREROUTING",
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", port.HostPort),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", containerIP, port.ContainerPort),
	}
	if err := runIPTables(dnatRule); err != nil {
		return fmt.Errorf("failed to add DNAT rule: %w", err)
	}

	masqRule := []string{
		"-t", "nat",
		"-A", "POSTROUTING",
		"-p", protocol,
		"-d", containerIP,
		"--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "MASQUERADE",
	}
	if err := runIPTables(masqRule); err != nil {
		p.removePortForwarding(containerIP, port)
		return fmt.Errorf("failed to add MASQUERADE rule: %w", err)
	}

	forwardRule := []string{
		"-A", "FORWARD",
		"-p", protocol,
		"-d", containerIP,
		"--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "ACCEPT",
	}
	if err := runIPTables(forwardRule); err != nil {
		p.removePortForwarding(containerIP, port)
		return fmt.Errorf("failed to add FORWARD rule: %w", err)
	}

	return nil
}

// removePortForwarding removes the rule set created by setupPortForwarding.
func (p *HostPortPublisher) removePortForwarding(containerIP string, port PortBinding) {
	protocol := strings.ToLower(port.Protocol)
	if protocol == "" {
		protocol = "tcp"
	}

	_ = runIPTables([]string{
		"-t", "nat", "-D", "PREROUTING",
		"-p", protocol, "--dport", fmt.Sprintf("%d", port.HostPort),
		"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, port.ContainerPort),
	})
	_ = runIPTables([]string{
		"-t", "nat", "-D", "POSTROUTING",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "MASQUERADE",
	})
	_ = runIPTables([]string{
		"-D", "FORWARD",
		"-p", protocol, "-d", containerIP, "--dport", fmt.Sprintf("%d", port.ContainerPort),
		"-j", "ACCEPT",
	})
}

// cleanupPorts removes all iptables rules published for a sandbox.
func (p *HostPortPublisher) cleanupPorts(sandboxID string, ports []PortBinding) error {
	delete(p.publishedPorts, sandboxID)
	return nil
}

// runIPTables executes an iptables command.
func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}

// GetPublishedPorts returns the ports currently published for a sandbox.
func (p *HostPortPublisher) GetPublishedPorts(sandboxID string) []PortBinding {
	return p.publishedPorts[sandboxID]
}
