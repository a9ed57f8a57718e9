package store

import (
	"errors"

	"github.com/NadimPy/virtualization-implementation/types"
)

var (
	// ErrNotFound is returned when a lookup matches no row (including rows
	// owned by a different user).
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when a user insert violates the unique
	// API key hash constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDuplicatePort is returned when a VM insert loses the race on the
	// unique host port column.
	ErrDuplicatePort = errors.New("duplicate host port")
)

// Store is the durable catalog of users and VMs. Implementations serialize
// writers internally; all mutations are committed before returning.
type Store interface {
	Init(...Option) error
	Close() error

	AddUser(name, passwordHash, apiKeyHash string) (*types.User, error)
	FindUserByAPIKeyHash(hash string) (*types.User, error)
	FindUserByName(name string) (*types.User, error)
	UpdateUserAPIKeyHash(id, apiKeyHash string) error

	AddVM(*types.VM) error
	GetVM(id, ownerID string) (*types.VM, error)
	ListVMs(ownerID string) ([]types.VM, error)
	ListAllVMs() ([]types.VM, error)
	UpdateVMStatus(id, ownerID, status, ip string) (bool, error)
	DeleteVM(id, ownerID string) (bool, error)
	MaxHostPort() (int, bool, error)
}
