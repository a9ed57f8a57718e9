package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NadimPy/virtualization-implementation/types"

	"github.com/gofrs/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	hashed_password TEXT NOT NULL,
	api_key_hash    TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS vms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	status     TEXT NOT NULL,
	ip         TEXT,
	host_port  INTEGER UNIQUE NOT NULL,
	image_type TEXT NOT NULL,
	disk_path  TEXT NOT NULL,
	iso_path   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
);
`

// SQLite is the catalog backed by a single SQLite file. A mutex serializes
// writers; SQLite itself would otherwise return SQLITE_BUSY under
// concurrent provisioning commits.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLite() Store {
	return new(SQLite)
}

func (this *SQLite) Init(opts ...Option) error {
	options := NewOptions(opts...)

	if options.Path == "" {
		return fmt.Errorf("no database path configured")
	}

	db, err := sql.Open("sqlite3", options.Path+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("opening SQLite file: %w", err)
	}

	// database/sql pools connections; more than one would defeat the
	// single-writer discipline and the foreign_keys pragma above is
	// per-connection anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating catalog schema: %w", err)
	}

	this.db = db

	return nil
}

func (this *SQLite) Close() error {
	if this.db == nil {
		return nil
	}

	return this.db.Close()
}

func (this *SQLite) AddUser(name, passwordHash, apiKeyHash string) (*types.User, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	user := &types.User{
		ID:             uuid.Must(uuid.NewV4()).String(),
		Name:           name,
		HashedPassword: passwordHash,
		APIKeyHash:     apiKeyHash,
	}

	_, err := this.db.Exec(
		`INSERT INTO users (id, name, hashed_password, api_key_hash) VALUES (?, ?, ?, ?)`,
		user.ID, user.Name, user.HashedPassword, user.APIKeyHash,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("inserting user %s: %w", name, ErrDuplicateKey)
		}

		return nil, fmt.Errorf("inserting user %s: %w", name, err)
	}

	return user, nil
}

func (this *SQLite) FindUserByAPIKeyHash(hash string) (*types.User, error) {
	return this.findUser(`SELECT id, name, hashed_password, api_key_hash FROM users WHERE api_key_hash = ?`, hash)
}

func (this *SQLite) FindUserByName(name string) (*types.User, error) {
	return this.findUser(`SELECT id, name, hashed_password, api_key_hash FROM users WHERE name = ?`, name)
}

func (this *SQLite) findUser(query, arg string) (*types.User, error) {
	var user types.User

	err := this.db.QueryRow(query, arg).Scan(&user.ID, &user.Name, &user.HashedPassword, &user.APIKeyHash)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return &user, nil
}

func (this *SQLite) UpdateUserAPIKeyHash(id, apiKeyHash string) error {
	this.mu.Lock()
	defer this.mu.Unlock()

	res, err := this.db.Exec(`UPDATE users SET api_key_hash = ? WHERE id = ?`, apiKeyHash, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}

		return fmt.Errorf("updating API key for user %s: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return nil
}

func (this *SQLite) AddVM(vm *types.VM) error {
	this.mu.Lock()
	defer this.mu.Unlock()

	if vm.CreatedAt == "" {
		vm.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := this.db.Exec(
		`INSERT INTO vms (id, name, owner_id, status, ip, host_port, image_type, disk_path, iso_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vm.ID, vm.Name, vm.OwnerID, vm.Status, nullable(vm.IP), vm.HostPort,
		vm.ImageType, vm.DiskPath, vm.ISOPath, vm.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "host_port") {
			return fmt.Errorf("inserting VM %s: %w", vm.ID, ErrDuplicatePort)
		}

		return fmt.Errorf("inserting VM %s: %w", vm.ID, err)
	}

	return nil
}

func (this *SQLite) GetVM(id, ownerID string) (*types.VM, error) {
	row := this.db.QueryRow(
		`SELECT id, name, owner_id, status, ip, host_port, image_type, disk_path, iso_path, created_at
		 FROM vms WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)

	vm, err := scanVM(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("querying VM %s: %w", id, err)
	}

	return vm, nil
}

func (this *SQLite) ListVMs(ownerID string) ([]types.VM, error) {
	return this.listVMs(
		`SELECT id, name, owner_id, status, ip, host_port, image_type, disk_path, iso_path, created_at
		 FROM vms WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID,
	)
}

func (this *SQLite) ListAllVMs() ([]types.VM, error) {
	return this.listVMs(
		`SELECT id, name, owner_id, status, ip, host_port, image_type, disk_path, iso_path, created_at
		 FROM vms ORDER BY created_at DESC`,
	)
}

func (this *SQLite) listVMs(query string, args ...interface{}) ([]types.VM, error) {
	rows, err := this.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying VMs: %w", err)
	}

	defer rows.Close()

	var vms []types.VM

	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning VM row: %w", err)
		}

		vms = append(vms, *vm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating VM rows: %w", err)
	}

	return vms, nil
}

func (this *SQLite) UpdateVMStatus(id, ownerID, status, ip string) (bool, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	res, err := this.db.Exec(
		`UPDATE vms SET status = ?, ip = ? WHERE id = ? AND owner_id = ?`,
		status, nullable(ip), id, ownerID,
	)

	if err != nil {
		return false, fmt.Errorf("updating VM %s status: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("updating VM %s status: %w", id, err)
	}

	return n > 0, nil
}

func (this *SQLite) DeleteVM(id, ownerID string) (bool, error) {
	this.mu.Lock()
	defer this.mu.Unlock()

	res, err := this.db.Exec(`DELETE FROM vms WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("deleting VM %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting VM %s: %w", id, err)
	}

	return n > 0, nil
}

func (this *SQLite) MaxHostPort() (int, bool, error) {
	var port sql.NullInt64

	if err := this.db.QueryRow(`SELECT MAX(host_port) FROM vms`).Scan(&port); err != nil {
		return 0, false, fmt.Errorf("querying max host port: %w", err)
	}

	if !port.Valid {
		return 0, false, nil
	}

	return int(port.Int64), true, nil
}

type scanner interface {
	Scan(...interface{}) error
}

func scanVM(s scanner) (*types.VM, error) {
	var (
		vm types.VM
		ip sql.NullString
	)

	err := s.Scan(&vm.ID, &vm.Name, &vm.OwnerID, &vm.Status, &ip, &vm.HostPort,
		&vm.ImageType, &vm.DiskPath, &vm.ISOPath, &vm.CreatedAt)

	if err != nil {
		return nil, err
	}

	vm.IP = ip.String

	return &vm, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}

	return s
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error

	if !errors.As(err, &serr) {
		return false
	}

	return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
