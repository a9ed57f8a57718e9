// Package vm drives the provisioning pipeline: port, seed ISO, disk clone,
// domain define+start, IP discovery, NAT rules, catalog commit. Each step
// acquires an external resource; a failure at any step unwinds every earlier
// acquisition so nothing leaks.
package vm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/internal/hypervisor"
	"github.com/NadimPy/virtualization-implementation/internal/ipmac"
	"github.com/NadimPy/virtualization-implementation/store"
	"github.com/NadimPy/virtualization-implementation/types"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/gofrs/uuid"
	"golang.org/x/sync/semaphore"
)

type diskManager interface {
	Clone(ctx context.Context, vmID, imageType string) (string, error)
	Delete(vmID string) error
}

type seedBuilder interface {
	Build(ctx context.Context, vmID, hostname, imageType, sshKey, mac string) (string, error)
	Delete(vmID string) error
}

type domainManager interface {
	DefineAndStart(ctx context.Context, xml, uuid string) error
	Destroy(ctx context.Context, uuid string, undefine bool) error
	DomainState(ctx context.Context, uuid string) (hypervisor.State, error)
}

type natManager interface {
	Add(ctx context.Context, hostPort int, guestIP string) error
	Remove(ctx context.Context, hostPort int, guestIP string)
}

type ipResolver interface {
	Resolve(uuid, mac string) (string, error)
}

type eventPublisher interface {
	Publish(event string, vm types.VM)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, types.VM) {}

// CreateRequest carries the caller-supplied provisioning parameters. Zero
// MemoryMB/VCPUs take the configured defaults; out-of-range values are
// clamped, not rejected.
type CreateRequest struct {
	Name      string `json:"name"`
	SSHKey    string `json:"ssh_key"`
	ImageType string `json:"image_type"`
	MemoryMB  int    `json:"memory_mb"`
	VCPUs     int    `json:"vcpus"`
}

type Coordinator struct {
	settings config.Settings
	store    store.Store
	disks    diskManager
	seeds    seedBuilder
	domains  domainManager
	nat      natManager
	resolver ipResolver
	events   eventPublisher

	ports *allocator
	sem   *semaphore.Weighted
}

func NewCoordinator(opts ...Option) *Coordinator {
	o := newOptions(opts...)

	return &Coordinator{
		settings: o.Settings,
		store:    o.Store,
		disks:    o.Disks,
		seeds:    o.Seeds,
		domains:  o.Domains,
		nat:      o.NAT,
		resolver: o.Resolver,
		events:   o.Events,
		ports:    newAllocator(o.Store, o.Settings.StartPort, o.Settings.EndPort),
		sem:      semaphore.NewWeighted(o.MaxConcurrent),
	}
}

// Create provisions a new VM for the owner and returns its committed record.
// The pipeline runs strictly in order, pushing a compensator before each
// acquiring action; any failure unwinds the compensation log in reverse and
// surfaces an Error wrapping the cause. A successful return means the record
// is durably committed and every resource it names exists.
func (c *Coordinator) Create(ctx context.Context, owner *types.User, req *CreateRequest) (*types.VM, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring provisioning slot: %w", err)
	}

	defer c.sem.Release(1)

	// once a slot is held the pipeline runs to completion or compensation;
	// a caller disconnect must not kill a subprocess mid-step
	ctx = context.WithoutCancel(ctx)

	id := uuid.Must(uuid.NewV4()).String()
	mac := ipmac.GenerateMAC(id)

	log.Info("provisioning VM %s (%s) for user %s", id, req.Name, owner.ID)

	// compensation log: a compensator is pushed before its acquiring action
	// runs, and the whole stack unwinds in LIFO order on any failure
	var compensators []func()

	fail := func(cause error) (*types.VM, error) {
		log.Error("provisioning VM %s failed: %v", id, cause)

		for i := len(compensators) - 1; i >= 0; i-- {
			compensators[i]()
		}

		return nil, Error{VMID: id, Cause: cause}
	}

	// step 1: allocate host port; monotonic, so no compensation needed
	port, err := c.ports.allocate()
	if err != nil {
		return fail(err)
	}

	// step 2: build seed ISO
	compensators = append(compensators, func() {
		if err := c.seeds.Delete(id); err != nil {
			log.Warn("cleaning up seed ISO for %s: %v", id, err)
		}
	})

	isoPath, err := c.seeds.Build(ctx, id, req.Name, req.ImageType, req.SSHKey, mac)
	if err != nil {
		return fail(err)
	}

	// step 3: clone disk
	compensators = append(compensators, func() {
		if err := c.disks.Delete(id); err != nil {
			log.Warn("cleaning up disk for %s: %v", id, err)
		}
	})

	diskPath, err := c.disks.Clone(ctx, id, req.ImageType)
	if err != nil {
		return fail(err)
	}

	// step 4: render definition, define and start the domain
	compensators = append(compensators, func() {
		if err := c.domains.Destroy(context.Background(), id, true); err != nil {
			log.Warn("cleaning up domain %s: %v", id, err)
		}
	})

	xml, err := hypervisor.BuildDefinition(hypervisor.DefinitionParams{
		VMID:     id,
		Name:     req.Name,
		DiskPath: diskPath,
		ISOPath:  isoPath,
		MemoryMB: req.MemoryMB,
		VCPUs:    req.VCPUs,
		Network:  c.settings.VMNetwork,
		MAC:      mac,
	})
	if err != nil {
		return fail(err)
	}

	if err := c.domains.DefineAndStart(ctx, xml, id); err != nil {
		return fail(err)
	}

	// step 5: discover the guest IP; no side effects, no compensator
	ip, err := c.resolver.Resolve(id, mac)
	if err != nil {
		return fail(err)
	}

	// step 6: install NAT rules
	compensators = append(compensators, func() {
		c.nat.Remove(context.Background(), port, ip)
	})

	if err := c.nat.Add(ctx, port, ip); err != nil {
		return fail(err)
	}

	// step 7: commit the record; racing creates are serialized here by the
	// catalog's unique host_port column
	record := types.VM{
		ID:        id,
		Name:      req.Name,
		OwnerID:   owner.ID,
		Status:    types.StatusRunning,
		IP:        ip,
		HostPort:  port,
		ImageType: req.ImageType,
		DiskPath:  diskPath,
		ISOPath:   isoPath,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	compensators = append(compensators, func() {
		if _, err := c.store.DeleteVM(id, owner.ID); err != nil {
			log.Warn("cleaning up catalog record for %s: %v", id, err)
		}
	})

	if err := c.store.AddVM(&record); err != nil {
		return fail(err)
	}

	log.Info("provisioned VM %s: ip %s, host port %d", id, ip, port)

	c.events.Publish("created", record)

	return &record, nil
}

// Delete tears down a VM and removes its record. Sub-step failures are
// logged and skipped; the operation succeeds iff the catalog delete does.
func (c *Coordinator) Delete(ctx context.Context, ownerID, id string) error {
	record, err := c.store.GetVM(id, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("loading VM %s: %w", id, err)
	}

	if record.IP != "" {
		c.nat.Remove(ctx, record.HostPort, record.IP)
	}

	if err := c.domains.Destroy(ctx, id, true); err != nil {
		log.Warn("destroying domain %s: %v", id, err)
	}

	if err := c.disks.Delete(id); err != nil {
		log.Warn("deleting disk for %s: %v", id, err)
	}

	if err := c.seeds.Delete(id); err != nil {
		log.Warn("deleting seed ISO for %s: %v", id, err)
	}

	deleted, err := c.store.DeleteVM(id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting VM %s from catalog: %w", id, err)
	}

	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	log.Info("deleted VM %s", id)

	c.events.Publish("deleted", *record)

	return nil
}

// Get returns one of the owner's VMs with the live domain state overlaid.
func (c *Coordinator) Get(ctx context.Context, ownerID, id string) (*types.VM, error) {
	record, err := c.store.GetVM(id, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("loading VM %s: %w", id, err)
	}

	c.overlayState(ctx, record)

	return record, nil
}

// List returns the owner's VMs, newest first, with live domain state.
func (c *Coordinator) List(ctx context.Context, ownerID string) ([]types.VM, error) {
	records, err := c.store.ListVMs(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing VMs for user %s: %w", ownerID, err)
	}

	for i := range records {
		c.overlayState(ctx, &records[i])
	}

	return records, nil
}

// overlayState replaces the stored status with the hypervisor's view when
// the domain is reachable. The stored status survives as a fallback.
func (c *Coordinator) overlayState(ctx context.Context, record *types.VM) {
	state, err := c.domains.DomainState(ctx, record.ID)
	if err != nil {
		log.Debug("querying state of domain %s: %v", record.ID, err)
		return
	}

	switch state {
	case hypervisor.StateRunning, hypervisor.StateBlocked:
		record.Status = types.StatusRunning
	case hypervisor.StateShutoff, hypervisor.StateShutdown:
		record.Status = types.StatusStopped
	case hypervisor.StateCrashed:
		record.Status = types.StatusFailed
	}
}

func (c *Coordinator) validate(req *CreateRequest) error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}

	if req.SSHKey == "" {
		return fmt.Errorf("%w: ssh_key is required", ErrValidation)
	}

	if req.ImageType == "" {
		req.ImageType = "debian-12"
	}

	if _, ok := config.Images[req.ImageType]; !ok {
		return fmt.Errorf("%w: unknown image_type %s", ErrValidation, req.ImageType)
	}

	if req.MemoryMB == 0 {
		req.MemoryMB = c.settings.DefaultMemoryMB
	}

	if req.VCPUs == 0 {
		req.VCPUs = c.settings.DefaultVCPUs
	}

	req.MemoryMB = clamp(req.MemoryMB, c.settings.MinMemoryMB, c.settings.MaxMemoryMB)
	req.VCPUs = clamp(req.VCPUs, c.settings.MinVCPUs, c.settings.MaxVCPUs)

	return nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}

	if v > max {
		return max
	}

	return v
}
