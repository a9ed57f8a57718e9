// Package qemu manages per-VM qcow2 overlays with qemu-img. Every instance
// disk is a copy-on-write clone whose backing file is an immutable template
// image; deleting the overlay never touches the template.
package qemu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/util/shell"

	log "github.com/activeshadow/libminimega/minilog"
)

var (
	// ErrTemplateMissing is returned when the base image for the requested
	// image type is not present on disk.
	ErrTemplateMissing = errors.New("template image missing")

	// ErrCloneFailed is returned when qemu-img fails to create the overlay.
	ErrCloneFailed = errors.New("disk clone failed")
)

// Info describes a qcow2 image as reported by `qemu-img info`.
type Info struct {
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
	BackingFile string `json:"backing-filename"`
}

type Manager struct {
	settings config.Settings
}

func NewManager(settings config.Settings) *Manager {
	return &Manager{settings: settings}
}

// Path returns the deterministic overlay location for a VM id.
func (m *Manager) Path(vmID string) string {
	return filepath.Join(m.settings.InstanceDir(), vmID+".qcow2")
}

// Clone creates a copy-on-write overlay of the template for imageType at the
// VM's deterministic disk path and returns that path.
func (m *Manager) Clone(ctx context.Context, vmID, imageType string) (string, error) {
	template := m.settings.TemplatePath(imageType)

	if _, err := os.Stat(template); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrTemplateMissing, template)
	}

	if err := os.MkdirAll(m.settings.InstanceDir(), 0755); err != nil {
		return "", fmt.Errorf("creating instance directory: %w", err)
	}

	dest := m.Path(vmID)

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("create", "-f", "qcow2", "-F", "qcow2", "-b", template, dest),
	)

	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCloneFailed, string(stderr))
	}

	log.Info("created clone %s from %s", dest, template)

	return dest, nil
}

// Delete removes the overlay. A missing overlay is not an error so cleanup
// paths can call it unconditionally.
func (m *Manager) Delete(vmID string) error {
	path := m.Path(vmID)

	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("deleting disk %s: %w", path, err)
	}

	log.Info("deleted disk %s", path)

	return nil
}

// DiskInfo queries the overlay with `qemu-img info`.
func (m *Manager) DiskInfo(ctx context.Context, vmID string) (Info, error) {
	var info Info

	path := m.Path(vmID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return info, fmt.Errorf("disk not found: %s", path)
	}

	stdout, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("info", "--output=json", path),
	)

	if err != nil {
		return info, fmt.Errorf("querying disk %s: %s: %w", path, string(stderr), err)
	}

	if err := json.Unmarshal(stdout, &info); err != nil {
		return info, fmt.Errorf("parsing qemu-img info for %s: %w", path, err)
	}

	return info, nil
}

// Resize grows the overlay to sizeGB. The caller must ensure the domain is
// stopped; resizing a disk under a running guest corrupts it.
func (m *Manager) Resize(ctx context.Context, vmID string, sizeGB int) error {
	path := m.Path(vmID)

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("qemu-img"),
		shell.Args("resize", path, fmt.Sprintf("%dG", sizeGB)),
	)

	if err != nil {
		return fmt.Errorf("resizing disk %s: %s: %w", path, string(stderr), err)
	}

	log.Info("resized %s to %dGB", path, sizeGB)

	return nil
}
