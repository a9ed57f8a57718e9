// Package cloudinit builds the NoCloud seed ISOs guests read on first boot.
// Each seed carries user-data (login user, sudo, SSH key), meta-data
// (instance id, hostname), and, when a MAC is supplied, a network-config
// forcing DHCP on that interface. RHEL-family images will not request a
// lease without the network-config stanza.
package cloudinit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/util/shell"

	log "github.com/activeshadow/libminimega/minilog"
)

const volumeLabel = "cidata"

var userDataTemplate = template.Must(template.New("user-data").Parse(
	`#cloud-config
hostname: {{ .Hostname }}
manage_etc_hosts: true
users:
  - name: {{ .Username }}
    sudo: ALL=(ALL) NOPASSWD:ALL
    groups: users, admin
    shell: /bin/bash
    lock_passwd: true
    ssh_authorized_keys:
      - {{ .SSHKey }}
ssh_pwauth: false
package_update: false
`))

var metaDataTemplate = template.Must(template.New("meta-data").Parse(
	`instance-id: {{ .VMID }}
hostname: {{ .Hostname }}
local-hostname: {{ .Hostname }}
`))

var networkConfigTemplate = template.Must(template.New("network-config").Parse(
	`version: 2
ethernets:
  primary:
    match:
      macaddress: "{{ .MAC }}"
    dhcp4: true
    dhcp-identifier: mac
`))

type Builder struct {
	settings config.Settings
}

func NewBuilder(settings config.Settings) *Builder {
	return &Builder{settings: settings}
}

// Path returns the deterministic seed location for a VM id.
func (b *Builder) Path(vmID string) string {
	return filepath.Join(b.settings.CloudInitDir(), vmID+".iso")
}

// Build writes the seed ISO for a new guest and returns its path. The ISO is
// assembled in a scratch directory and renamed into place so a crashed build
// never leaves a partial seed behind.
func (b *Builder) Build(ctx context.Context, vmID, hostname, imageType, sshKey, mac string) (string, error) {
	image, ok := config.Images[imageType]
	if !ok {
		return "", fmt.Errorf("unknown image type %s", imageType)
	}

	if err := os.MkdirAll(b.settings.CloudInitDir(), 0755); err != nil {
		return "", fmt.Errorf("creating cloud-init directory: %w", err)
	}

	scratch, err := os.MkdirTemp(b.settings.CloudInitDir(), "seed-")
	if err != nil {
		return "", fmt.Errorf("creating seed scratch directory: %w", err)
	}

	defer os.RemoveAll(scratch)

	files := map[string]*template.Template{
		"user-data": userDataTemplate,
		"meta-data": metaDataTemplate,
	}

	if mac != "" {
		files["network-config"] = networkConfigTemplate
	}

	data := struct {
		VMID     string
		Hostname string
		Username string
		SSHKey   string
		MAC      string
	}{vmID, hostname, image.Username, sshKey, mac}

	for name, tmpl := range files {
		var buf bytes.Buffer

		if err := tmpl.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("rendering %s: %w", name, err)
		}

		if err := os.WriteFile(filepath.Join(scratch, name), buf.Bytes(), 0644); err != nil {
			return "", fmt.Errorf("writing %s: %w", name, err)
		}
	}

	// the ISO is written outside the scratch dir so genisoimage doesn't
	// pack its own output into the image
	tmpISO := b.Path(vmID) + ".tmp"

	_, stderr, err := shell.ExecCommand(ctx,
		shell.Command("genisoimage"),
		shell.Args("-output", tmpISO, "-volid", volumeLabel, "-joliet", "-rock", scratch),
	)

	if err != nil {
		os.Remove(tmpISO)
		return "", fmt.Errorf("generating seed ISO for %s: %s: %w", vmID, string(stderr), err)
	}

	path := b.Path(vmID)

	if err := os.Rename(tmpISO, path); err != nil {
		return "", fmt.Errorf("placing seed ISO %s: %w", path, err)
	}

	log.Info("built seed ISO %s for host %s", path, hostname)

	return path, nil
}

// Delete removes the seed ISO. Missing is not an error so cleanup paths can
// call it unconditionally.
func (b *Builder) Delete(vmID string) error {
	path := b.Path(vmID)

	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("deleting seed ISO %s: %w", path, err)
	}

	log.Info("deleted seed ISO %s", path)

	return nil
}
