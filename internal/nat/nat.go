// Package nat manages the host firewall rules that expose each guest's SSH
// port. Three rules per VM: a PREROUTING DNAT rewriting host_port to
// guest_ip:22, a FORWARD accept inserted at the top of the chain (the NAT
// bridge installs a reject earlier in the chain, so appending would never
// match), and a POSTROUTING masquerade so reply packets traverse the host.
package nat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/NadimPy/virtualization-implementation/types"
	"github.com/NadimPy/virtualization-implementation/util/shell"

	log "github.com/activeshadow/libminimega/minilog"
)

// ErrInstall is returned when installing the rule set fails. Any rules
// already installed have been removed again.
var ErrInstall = errors.New("NAT rule install failed")

type rule struct {
	add    []string
	remove []string
}

// ruleSet returns the three rules for one VM, in install order.
func ruleSet(hostPort int, guestIP string) []rule {
	port := strconv.Itoa(hostPort)
	dest := guestIP + ":22"

	dnat := []string{
		"-t", "nat", "PREROUTING",
		"-p", "tcp", "--dport", port,
		"-j", "DNAT", "--to-destination", dest,
	}

	forward := []string{
		"FORWARD",
		"-p", "tcp", "-d", guestIP, "--dport", "22",
		"-m", "conntrack", "--ctstate", "NEW,ESTABLISHED,RELATED",
		"-j", "ACCEPT",
	}

	masq := []string{
		"-t", "nat", "POSTROUTING",
		"-p", "tcp", "-d", guestIP, "--dport", "22",
		"-j", "MASQUERADE",
	}

	return []rule{
		{add: insertAt(dnat, "-A"), remove: insertAt(dnat, "-D")},
		// top insertion, ahead of the bridge's reject rule
		{add: append([]string{"-I", forward[0], "1"}, forward[1:]...), remove: append([]string{"-D", forward[0]}, forward[1:]...)},
		{add: insertAt(masq, "-A"), remove: insertAt(masq, "-D")},
	}
}

// insertAt places the iptables action flag in front of the chain name, which
// follows an optional "-t nat" table selector.
func insertAt(spec []string, action string) []string {
	if spec[0] == "-t" {
		out := append([]string{spec[0], spec[1], action}, spec[2:]...)
		return out
	}

	return append([]string{action}, spec...)
}

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) iptables(ctx context.Context, args []string) error {
	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("iptables"),
		shell.Args(args...),
	)

	if err != nil {
		return fmt.Errorf("iptables %s: %s", strings.Join(args, " "), strings.TrimSpace(string(stderr)))
	}

	return nil
}

// Add installs the rule set for one VM. From the caller's perspective the
// install is atomic: if any rule fails, the ones already installed are
// removed before ErrInstall is surfaced.
func (m *Manager) Add(ctx context.Context, hostPort int, guestIP string) error {
	rules := ruleSet(hostPort, guestIP)

	for i, r := range rules {
		if err := m.iptables(ctx, r.add); err != nil {
			for j := i - 1; j >= 0; j-- {
				if rerr := m.iptables(ctx, rules[j].remove); rerr != nil {
					log.Warn("rolling back NAT rule for port %d: %v", hostPort, rerr)
				}
			}

			return fmt.Errorf("%w: %v", ErrInstall, err)
		}
	}

	log.Info("installed NAT rules: host port %d -> %s:22", hostPort, guestIP)

	return nil
}

// Remove deletes the rule set for one VM. Individual failures are logged and
// swallowed so teardown stays idempotent against missing rules.
func (m *Manager) Remove(ctx context.Context, hostPort int, guestIP string) {
	for _, r := range ruleSet(hostPort, guestIP) {
		if err := m.iptables(ctx, r.remove); err != nil {
			log.Debug("removing NAT rule for port %d: %v", hostPort, err)
		}
	}

	log.Info("removed NAT rules: host port %d -> %s:22", hostPort, guestIP)
}

// Restore reinstates the rule set for every catalogued VM with a known port
// and IP. Each set is removed first so a restart is safe whether the rules
// survived, were flushed, or are half-present.
func (m *Manager) Restore(ctx context.Context, vms []types.VM) {
	var restored int

	for _, vm := range vms {
		if vm.IP == "" || vm.HostPort == 0 {
			continue
		}

		m.Remove(ctx, vm.HostPort, vm.IP)

		if err := m.Add(ctx, vm.HostPort, vm.IP); err != nil {
			log.Error("restoring NAT rules for VM %s: %v", vm.ID, err)
			continue
		}

		restored++
	}

	if restored > 0 {
		log.Info("restored NAT rules for %d VMs", restored)
	}
}
