package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/NadimPy/virtualization-implementation/internal/hypervisor"
	"github.com/NadimPy/virtualization-implementation/internal/qemu"
	"github.com/NadimPy/virtualization-implementation/store"
	"github.com/NadimPy/virtualization-implementation/util"

	"github.com/spf13/cobra"
)

func newVMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vm",
		Short: "Virtual machine management",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	return cmd
}

func newVMListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Table of all catalogued VMs",
		RunE: func(cmd *cobra.Command, args []string) error {
			vms, err := store.ListAllVMs()
			if err != nil {
				return fmt.Errorf("listing VMs: %w", err)
			}

			util.PrintTableOfVMs(os.Stdout, vms...)

			return nil
		},
	}

	return cmd
}

func newVMDiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disk",
		Short: "Instance disk management",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	return cmd
}

func newVMDiskInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <vm id>",
		Short: "Details of a VM's instance disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("must provide a VM id")
			}

			info, err := qemu.NewManager(settings).DiskInfo(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("querying disk: %w", err)
			}

			fmt.Printf("file:         %s\n", info.Filename)
			fmt.Printf("format:       %s\n", info.Format)
			fmt.Printf("virtual size: %d\n", info.VirtualSize)
			fmt.Printf("actual size:  %d\n", info.ActualSize)
			fmt.Printf("backing file: %s\n", info.BackingFile)

			return nil
		},
	}

	return cmd
}

func newVMDiskResizeCmd() *cobra.Command {
	desc := `Grow a VM's instance disk

  The domain must be shut off first; resizing the disk under a running
  guest corrupts it. The guest filesystem still has to be grown from
  inside the VM afterwards.`

	cmd := &cobra.Command{
		Use:   "resize <vm id> <size in GB>",
		Short: "Grow a VM's instance disk",
		Long:  desc,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("must provide a VM id and a size in GB")
			}

			size, err := strconv.Atoi(args[1])
			if err != nil || size <= 0 {
				return fmt.Errorf("invalid size %s", args[1])
			}

			adapter := hypervisor.NewAdapter(settings.LibvirtURI)

			state, err := adapter.DomainState(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("querying domain state: %w", err)
			}

			if state != hypervisor.StateShutoff {
				return fmt.Errorf("domain must be shut off to resize its disk (currently %s)", state)
			}

			if err := qemu.NewManager(settings).Resize(cmd.Context(), args[0], size); err != nil {
				return fmt.Errorf("resizing disk: %w", err)
			}

			return nil
		},
	}

	return cmd
}

func init() {
	diskCmd := newVMDiskCmd()
	diskCmd.AddCommand(newVMDiskInfoCmd())
	diskCmd.AddCommand(newVMDiskResizeCmd())

	vmCmd := newVMCmd()
	vmCmd.AddCommand(newVMListCmd())
	vmCmd.AddCommand(diskCmd)

	rootCmd.AddCommand(vmCmd)
}
