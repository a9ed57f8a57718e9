// Package ipmac derives guest MAC addresses and discovers guest IPs after
// boot. The MAC is a pure function of the VM id, so the address a guest will
// use is known before the domain exists and every discovery source can be
// keyed on it.
package ipmac

import (
	"crypto/sha256"
	"fmt"
)

// GenerateMAC returns the deterministic MAC for a VM id, using the KVM
// locally-administered 52:54:00 prefix and the first three bytes of the id's
// SHA-256 digest.
func GenerateMAC(vmID string) string {
	sum := sha256.Sum256([]byte(vmID))
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", sum[0], sum[1], sum[2])
}
