package store

import (
	"github.com/NadimPy/virtualization-implementation/types"
)

var DefaultStore Store = NewSQLite()

func Init(opts ...Option) error {
	return DefaultStore.Init(opts...)
}

func Close() error {
	return DefaultStore.Close()
}

func AddUser(name, passwordHash, apiKeyHash string) (*types.User, error) {
	return DefaultStore.AddUser(name, passwordHash, apiKeyHash)
}

func FindUserByAPIKeyHash(hash string) (*types.User, error) {
	return DefaultStore.FindUserByAPIKeyHash(hash)
}

func FindUserByName(name string) (*types.User, error) {
	return DefaultStore.FindUserByName(name)
}

func UpdateUserAPIKeyHash(id, apiKeyHash string) error {
	return DefaultStore.UpdateUserAPIKeyHash(id, apiKeyHash)
}

func AddVM(vm *types.VM) error {
	return DefaultStore.AddVM(vm)
}

func GetVM(id, ownerID string) (*types.VM, error) {
	return DefaultStore.GetVM(id, ownerID)
}

func ListVMs(ownerID string) ([]types.VM, error) {
	return DefaultStore.ListVMs(ownerID)
}

func ListAllVMs() ([]types.VM, error) {
	return DefaultStore.ListAllVMs()
}

func UpdateVMStatus(id, ownerID, status, ip string) (bool, error) {
	return DefaultStore.UpdateVMStatus(id, ownerID, status, ip)
}

func DeleteVM(id, ownerID string) (bool, error) {
	return DefaultStore.DeleteVM(id, ownerID)
}

func MaxHostPort() (int, bool, error) {
	return DefaultStore.MaxHostPort()
}
