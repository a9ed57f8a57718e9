package types

// User is an account that owns VMs. Only hashes are stored; the plaintext
// API key is shown once at signup (or login, which rotates it).
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	HashedPassword string `json:"-"`
	APIKeyHash     string `json:"-"`
}
