package ipmac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NadimPy/virtualization-implementation/internal/hypervisor"
	"github.com/NadimPy/virtualization-implementation/util/shell"

	log "github.com/activeshadow/libminimega/minilog"
)

// ErrTimeout is returned when no source produced the guest's IP before the
// resolver's deadline.
var ErrTimeout = errors.New("IP discovery timed out")

// addressQuerier is the slice of the hypervisor adapter the resolver needs.
type addressQuerier interface {
	InterfaceAddresses(ctx context.Context, uuid string, source hypervisor.AddressSource) ([]hypervisor.InterfaceAddress, error)
	InterfaceMACs(ctx context.Context, uuid string) ([]string, error)
	Quiet() func()
}

// Resolver polls multiple sources for a freshly booted guest's IPv4 address.
// Guests boot at wildly different speeds (Alpine in seconds, Rocky in a
// minute), so the cheap sources are retried every poll while the guest-agent
// query is held back until the grace period passes. Agent queries fail
// loudly until the agent is installed, which is also why the adapter's
// warning suppression is held for the whole resolve.
type Resolver struct {
	adapter    addressQuerier
	network    string
	leasesPath string

	Deadline     time.Duration
	PollInterval time.Duration
	AgentGrace   time.Duration
	logEvery     time.Duration
}

func NewResolver(adapter addressQuerier, network string) *Resolver {
	return &Resolver{
		adapter:    adapter,
		network:    network,
		leasesPath: fmt.Sprintf("/var/lib/libvirt/dnsmasq/%s.leases", network),

		Deadline:     120 * time.Second,
		PollInterval: 2 * time.Second,
		AgentGrace:   30 * time.Second,
		logEvery:     10 * time.Second,
	}
}

// Resolve discovers the guest's IPv4 address, polling until its own deadline.
// The deadline is deliberately independent of the caller's context so an
// aborted HTTP request does not strand a provisioning mid-step.
func (r *Resolver) Resolve(uuid, mac string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.Deadline)
	defer cancel()

	release := r.adapter.Quiet()
	defer release()

	if macs, err := r.adapter.InterfaceMACs(ctx, uuid); err == nil {
		var found bool
		for _, m := range macs {
			if strings.EqualFold(m, mac) {
				found = true
				break
			}
		}

		if !found {
			log.Warn("domain %s does not carry expected MAC %s (has %v)", uuid, mac, macs)
		}
	}

	start := time.Now()
	lastLog := start

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		if ip := r.poll(ctx, uuid, mac, time.Since(start) >= r.AgentGrace); ip != "" {
			log.Info("resolved IP %s for domain %s after %s", ip, uuid, time.Since(start).Round(time.Second))
			return ip, nil
		}

		if time.Since(lastLog) >= r.logEvery {
			log.Info("still waiting for IP of domain %s (%s elapsed)", uuid, time.Since(start).Round(time.Second))
			lastLog = time.Now()
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: domain %s after %s", ErrTimeout, uuid, r.Deadline)
		case <-ticker.C:
		}
	}
}

// poll tries each source once. Per-poll failures are silent; a source that
// errors simply yields nothing this round.
func (r *Resolver) poll(ctx context.Context, uuid, mac string, agentAllowed bool) string {
	if ip := r.fromLeaseSource(ctx, uuid); ip != "" {
		return ip
	}

	if ip := r.fromLeasesFile(mac); ip != "" {
		return ip
	}

	if ip := r.fromNeighborTable(ctx, mac); ip != "" {
		return ip
	}

	if agentAllowed {
		if ip := r.fromAgentSource(ctx, uuid); ip != "" {
			return ip
		}
	}

	return ""
}

func (r *Resolver) fromLeaseSource(ctx context.Context, uuid string) string {
	ifaces, err := r.adapter.InterfaceAddresses(ctx, uuid, hypervisor.SourceLease)
	if err != nil {
		return ""
	}

	return firstUsable(ifaces)
}

func (r *Resolver) fromAgentSource(ctx context.Context, uuid string) string {
	ifaces, err := r.adapter.InterfaceAddresses(ctx, uuid, hypervisor.SourceAgent)
	if err != nil {
		return ""
	}

	return firstUsable(ifaces)
}

// fromLeasesFile scans dnsmasq's lease database for the guest's MAC. Lines
// are "expiry mac ip hostname client-id".
func (r *Resolver) fromLeasesFile(mac string) string {
	content, err := os.ReadFile(r.leasesPath)
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && strings.EqualFold(fields[1], mac) {
			return fields[2]
		}
	}

	return ""
}

// fromNeighborTable scans the host ARP table for the guest's MAC. Lines are
// "ip dev br lladdr mac STATE".
func (r *Resolver) fromNeighborTable(ctx context.Context, mac string) string {
	stdout, _, err := shell.ExecCommand(ctx,
		shell.Command("ip"),
		shell.Args("-4", "neigh", "show"),
	)

	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(stdout), "\n") {
		fields := strings.Fields(line)

		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) && strings.EqualFold(fields[i+1], mac) {
				return fields[0]
			}
		}
	}

	return ""
}

func firstUsable(ifaces []hypervisor.InterfaceAddress) string {
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}

		for _, addr := range iface.Addrs {
			if addr != "" && !strings.HasPrefix(addr, "127.") && !strings.Contains(addr, ":") {
				return addr
			}
		}
	}

	return ""
}
