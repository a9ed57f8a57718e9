package util

import (
	"fmt"
	"io"

	"github.com/NadimPy/virtualization-implementation/types"

	"github.com/olekukonko/tablewriter"
)

// PrintTableOfVMs writes the given VM records to the given writer as an
// ASCII table. The table headers are set to ID, Name, Owner, Status, IP,
// Port, Image, and Created.
func PrintTableOfVMs(writer io.Writer, vms ...types.VM) {
	table := tablewriter.NewWriter(writer)

	table.SetHeader([]string{"ID", "Name", "Owner", "Status", "IP", "Port", "Image", "Created"})

	for _, vm := range vms {
		table.Append([]string{
			vm.ID,
			vm.Name,
			vm.OwnerID,
			vm.Status,
			vm.IP,
			fmt.Sprintf("%d", vm.HostPort),
			vm.ImageType,
			vm.CreatedAt,
		})
	}

	table.Render()
}
