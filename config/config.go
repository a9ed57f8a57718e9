package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Image describes a base image the provisioner knows how to clone.
type Image struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// Images maps an image tag to its display name and the default login user
// cloud-init creates in the guest.
var Images = map[string]Image{
	"debian-12": {Name: "Debian 12 (Bookworm)", Username: "debian"},
	"rocky-9":   {Name: "Rocky Linux 9", Username: "rocky"},
	"alpine":    {Name: "Alpine Linux", Username: "alpine"},
}

// Settings is a snapshot of the service configuration, resolved from flags
// and environment variables at startup.
type Settings struct {
	DataDir string
	DBPath  string

	LibvirtURI string
	VMNetwork  string

	ServerPublicIP string

	DefaultMemoryMB int
	DefaultVCPUs    int
	DefaultDiskGB   int

	MinMemoryMB int
	MaxMemoryMB int
	MinVCPUs    int
	MaxVCPUs    int

	StartPort int
	EndPort   int
}

func init() {
	viper.SetDefault("DATA_DIR", "/var/lib/vm-provisioner")
	viper.SetDefault("LIBVIRT_URI", "qemu:///system")
	viper.SetDefault("VM_NETWORK", "default")
	viper.SetDefault("SERVER_PUBLIC_IP", "127.0.0.1")
	viper.SetDefault("DEFAULT_MEMORY_MB", 512)
	viper.SetDefault("DEFAULT_VCPUS", 1)
	viper.SetDefault("DEFAULT_DISK_GB", 10)
	viper.SetDefault("MIN_MEMORY_MB", 128)
	viper.SetDefault("MAX_MEMORY_MB", 8192)
	viper.SetDefault("MIN_VCPUS", 1)
	viper.SetDefault("MAX_VCPUS", 8)
	viper.SetDefault("START_PORT", 2222)
	viper.SetDefault("END_PORT", 2322)

	viper.AutomaticEnv()
}

// FromViper resolves the active settings. DB_PATH defaults to a file inside
// DATA_DIR so a bare deployment only has to set DATA_DIR.
func FromViper() Settings {
	s := Settings{
		DataDir:         viper.GetString("DATA_DIR"),
		DBPath:          viper.GetString("DB_PATH"),
		LibvirtURI:      viper.GetString("LIBVIRT_URI"),
		VMNetwork:       viper.GetString("VM_NETWORK"),
		ServerPublicIP:  viper.GetString("SERVER_PUBLIC_IP"),
		DefaultMemoryMB: viper.GetInt("DEFAULT_MEMORY_MB"),
		DefaultVCPUs:    viper.GetInt("DEFAULT_VCPUS"),
		DefaultDiskGB:   viper.GetInt("DEFAULT_DISK_GB"),
		MinMemoryMB:     viper.GetInt("MIN_MEMORY_MB"),
		MaxMemoryMB:     viper.GetInt("MAX_MEMORY_MB"),
		MinVCPUs:        viper.GetInt("MIN_VCPUS"),
		MaxVCPUs:        viper.GetInt("MAX_VCPUS"),
		StartPort:       viper.GetInt("START_PORT"),
		EndPort:         viper.GetInt("END_PORT"),
	}

	if s.DBPath == "" {
		s.DBPath = filepath.Join(s.DataDir, "vms.db")
	}

	return s
}

// ImageDir holds the immutable template disks.
func (s Settings) ImageDir() string {
	return filepath.Join(s.DataDir, "images")
}

// InstanceDir holds the per-VM copy-on-write overlays.
func (s Settings) InstanceDir() string {
	return filepath.Join(s.DataDir, "instances")
}

// CloudInitDir holds the per-VM seed ISOs.
func (s Settings) CloudInitDir() string {
	return filepath.Join(s.DataDir, "cloud-init")
}

// TemplatePath returns the backing file for the given image tag. It does not
// check the tag is known; callers validate against Images first.
func (s Settings) TemplatePath(imageType string) string {
	return filepath.Join(s.ImageDir(), imageType+"-template.qcow2")
}

// EnsureDirectories creates the data directory tree.
func (s Settings) EnsureDirectories() error {
	for _, dir := range []string{s.DataDir, s.ImageDir(), s.InstanceDir(), s.CloudInitDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}
