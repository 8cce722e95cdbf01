package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// simulatorNodeClassIDBase is the first classid assigned to discovered
// simulator nodes (node-1..node-10 get classids 31..40).
const simulatorNodeClassIDBase = 31

var nodeNamePattern = regexp.MustCompile(`^node-([1-9]|10)$`)

func nodeNumber(name string) int {
	m := nodeNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// BridgeDiscoverer inspects the container platform for simulator node
// containers and the bridge network they sit on. It is a narrow,
// single-method interface so the real Docker-socket probe can be swapped
// for a fake in tests.
type BridgeDiscoverer interface {
	Discover(ctx context.Context) (bridge string, nodeIPs map[string]string, err error)
}

// DockerSocketDiscoverer probes the local Docker Engine API over its unix
// socket for container IPs and the bridge network name. It is a narrow,
// best-effort, read-only probe — not a full Docker SDK client (see DESIGN.md).
type DockerSocketDiscoverer struct {
	SocketPath string
	Timeout    time.Duration
}

// NewDockerSocketDiscoverer returns a discoverer talking to the given Docker
// socket path (typically /var/run/docker.sock).
func NewDockerSocketDiscoverer(socketPath string) *DockerSocketDiscoverer {
	return &DockerSocketDiscoverer{SocketPath: socketPath, Timeout: 2 * time.Second}
}

type dockerContainer struct {
	Names           []string `json:"Names"`
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress string `json:"IPAddress"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

// Discover lists running containers and returns the bridge network name
// plus a device-id → IP map for any containers whose name matches node-1..node-10.
func (d *DockerSocketDiscoverer) Discover(ctx context.Context) (string, map[string]string, error) {
	client := d.httpClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/containers/json", nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("docker socket probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("docker socket probe: unexpected status %d", resp.StatusCode)
	}

	var containers []dockerContainer
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return "", nil, fmt.Errorf("docker socket probe: decode failed: %w", err)
	}

	nodeIPs := map[string]string{}
	bridge := ""
	for _, c := range containers {
		name := containerDisplayName(c.Names)
		if !nodeNamePattern.MatchString(name) {
			continue
		}
		for netName, n := range c.NetworkSettings.Networks {
			if n.IPAddress == "" {
				continue
			}
			nodeIPs[name] = n.IPAddress
			if bridge == "" {
				bridge = netName
			}
		}
	}
	if bridge == "" {
		return "", nodeIPs, fmt.Errorf("docker socket probe: no bridge network discovered")
	}
	return bridge, nodeIPs, nil
}

func (d *DockerSocketDiscoverer) httpClient() *http.Client {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", d.SocketPath)
			},
		},
	}
}

func containerDisplayName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	// Docker prefixes container names with '/'.
	n := names[0]
	if len(n) > 0 && n[0] == '/' {
		n = n[1:]
	}
	return n
}

// DiscoverSimulatorNodes runs bd and seeds discovered node-1..node-10
// containers into r on the discovered bridge interface, assigning classids
// 31..40 in node order. If discovery fails, the caller-supplied fallback
// bridge name replaces the discovered one, but no nodes are seeded, so no
// registry entry is created on the fallback bridge.
func DiscoverSimulatorNodes(ctx context.Context, r *Registry, bd BridgeDiscoverer, fallbackBridge string) error {
	bridge, nodeIPs, err := bd.Discover(ctx)
	if err != nil || bridge == "" {
		bridge = fallbackBridge
		nodeIPs = nil
	}

	names := make([]string, 0, len(nodeIPs))
	for name := range nodeIPs {
		names = append(names, name)
	}
	// Numeric order, so node-10 lands after node-9 rather than after node-1.
	sort.Slice(names, func(i, j int) bool {
		return nodeNumber(names[i]) < nodeNumber(names[j])
	})

	entries := make([]Entry, 0, len(names))
	for i, name := range names {
		entries = append(entries, Entry{
			DeviceID: name,
			IP:       nodeIPs[name],
			ClassID:  simulatorNodeClassIDBase + i,
			Iface:    bridge,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return r.Seed(entries)
}
