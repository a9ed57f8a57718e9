// Package shell wraps the external tools the provisioner drives (qemu-img,
// virsh, genisoimage, iptables) behind a mockable interface.
package shell

import (
	"context"
)

type Shell interface {
	CommandExists(string) bool
	ExecCommand(context.Context, ...Option) ([]byte, []byte, error)
}
