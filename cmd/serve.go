package cmd

import (
	"fmt"

	"github.com/NadimPy/virtualization-implementation/api/vm"
	"github.com/NadimPy/virtualization-implementation/internal/cloudinit"
	"github.com/NadimPy/virtualization-implementation/internal/hypervisor"
	"github.com/NadimPy/virtualization-implementation/internal/ipmac"
	"github.com/NadimPy/virtualization-implementation/internal/nat"
	"github.com/NadimPy/virtualization-implementation/internal/qemu"
	"github.com/NadimPy/virtualization-implementation/store"
	"github.com/NadimPy/virtualization-implementation/util/shell"
	"github.com/NadimPy/virtualization-implementation/util/sigterm"
	"github.com/NadimPy/virtualization-implementation/web"
	"github.com/NadimPy/virtualization-implementation/web/broker"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// externalDependencies lists the host tools the provisioner shells out to.
// Checked once at startup so a misconfigured host fails fast instead of
// mid-pipeline.
var externalDependencies = []string{
	"qemu-img",    // disk clones and queries
	"genisoimage", // seed ISO builds
	"virsh",       // domain lifecycle
	"iptables",    // NAT rules
	"ip",          // ARP table during IP discovery
}

func checkExternal() error {
	var missing []string

	for _, dep := range externalDependencies {
		if !shell.CommandExists(dep) {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing external dependencies: %v", missing)
	}

	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkExternal(); err != nil {
				return err
			}

			endpoint := viper.GetString("endpoint")

			adapter := hypervisor.NewAdapter(settings.LibvirtURI)

			coordinator := vm.NewCoordinator(
				vm.Settings(settings),
				vm.Store(store.DefaultStore),
				vm.Disks(qemu.NewManager(settings)),
				vm.Seeds(cloudinit.NewBuilder(settings)),
				vm.Domains(adapter),
				vm.NAT(nat.NewManager()),
				vm.Resolver(ipmac.NewResolver(adapter, settings.VMNetwork)),
				vm.Events(broker.Events{}),
				vm.MaxConcurrent(viper.GetInt64("max-concurrent")),
			)

			ctx := sigterm.CancelContext(cmd.Context())

			// firewall state may have been flushed while we were down
			vms, err := store.ListAllVMs()
			if err != nil {
				return fmt.Errorf("listing VMs for NAT restore: %w", err)
			}

			nat.NewManager().Restore(ctx, vms)

			server := web.NewServer(settings, store.DefaultStore, coordinator)

			if err := server.Start(ctx, endpoint); err != nil {
				return fmt.Errorf("running API server: %w", err)
			}

			log.Info("server stopped")

			return nil
		},
	}

	cmd.Flags().String("endpoint", ":8000", "HTTP endpoint to listen on")
	cmd.Flags().Int64("max-concurrent", 8, "max provisionings in flight")

	viper.BindPFlags(cmd.Flags())

	return cmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
