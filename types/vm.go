package types

// VM lifecycle statuses as stored in the catalog. Live hypervisor state is
// overlaid on top of these when listing.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// VM is a catalogued virtual machine. A row exists only for machines whose
// full provisioning pipeline completed; the domain, disk, ISO, and NAT rules
// it references were all observed to exist when the row was committed.
type VM struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"owner_id"`
	Status    string `json:"status"`
	IP        string `json:"ip,omitempty"`
	HostPort  int    `json:"host_port"`
	ImageType string `json:"image_type"`
	DiskPath  string `json:"disk_path"`
	ISOPath   string `json:"iso_path"`
	CreatedAt string `json:"created_at"`
}
