package web

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/NadimPy/virtualization-implementation/api/image"
	"github.com/NadimPy/virtualization-implementation/api/vm"
	"github.com/NadimPy/virtualization-implementation/store"
	"github.com/NadimPy/virtualization-implementation/types"
	"github.com/NadimPy/virtualization-implementation/web/broker"
	"github.com/NadimPy/virtualization-implementation/web/middleware"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type sshConnection struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Command  string `json:"command"`
}

type vmSpecs struct {
	MemoryMB int    `json:"memory_mb"`
	VCPUs    int    `json:"vcpus"`
	Image    string `json:"image"`
}

func (s *Server) sshConnectionFor(record *types.VM) sshConnection {
	username := image.Username(record.ImageType)

	return sshConnection{
		Host:     s.settings.ServerPublicIP,
		Port:     record.HostPort,
		Username: username,
		Command:  fmt.Sprintf("ssh -p %d %s@%s", record.HostPort, username, s.settings.ServerPublicIP),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// POST /vms
func (s *Server) CreateVM(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req vm.CreateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := s.coordinator.Create(r.Context(), user, &req)
	if err != nil {
		if errors.Is(err, vm.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		log.Error("creating VM for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "VM creation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             record.ID,
		"name":           record.Name,
		"status":         record.Status,
		"ssh_connection": s.sshConnectionFor(record),
		"specs": vmSpecs{
			MemoryMB: req.MemoryMB,
			VCPUs:    req.VCPUs,
			Image:    image.Name(req.ImageType),
		},
	})
}

// GET /vms
func (s *Server) GetVMs(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	records, err := s.coordinator.List(r.Context(), user.ID)
	if err != nil {
		log.Error("listing VMs for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "listing VMs failed")
		return
	}

	vms := make([]map[string]interface{}, 0, len(records))

	for _, record := range records {
		vms = append(vms, map[string]interface{}{
			"id":         record.ID,
			"name":       record.Name,
			"status":     record.Status,
			"ip":         record.IP,
			"port":       record.HostPort,
			"created_at": record.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"vms": vms})
}

// GET /vms/{id}
func (s *Server) GetVM(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]

	record, err := s.coordinator.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, vm.ErrNotFound) {
			writeError(w, http.StatusNotFound, "VM not found")
			return
		}

		log.Error("getting VM %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "getting VM failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":             record.ID,
		"name":           record.Name,
		"status":         record.Status,
		"ssh_connection": s.sshConnectionFor(record),
		"created_at":     record.CreatedAt,
	})
}

// DELETE /vms/{id}
func (s *Server) DeleteVM(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]

	if err := s.coordinator.Delete(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, vm.ErrNotFound) {
			writeError(w, http.StatusNotFound, "VM not found")
			return
		}

		log.Error("deleting VM %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "deleting VM failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}

// GET /images
func (s *Server) GetImages(w http.ResponseWriter, r *http.Request) {
	images := map[string]map[string]string{}

	for _, img := range image.List() {
		images[img.Tag] = map[string]string{
			"name":     img.Name,
			"username": img.Username,
		}
	}

	writeJSON(w, http.StatusOK, images)
}

type credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// POST /auth/signup
func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	var creds credentials

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Name == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "name and password are required")
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing password failed")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating API key failed")
		return
	}

	user, err := s.store.AddUser(creds.Name, string(passwordHash), middleware.HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			writeError(w, http.StatusBadRequest, "user already exists")
			return
		}

		log.Error("adding user %s: %v", creds.Name, err)
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}

	log.Info("created user %s (%s)", user.Name, user.ID)

	// the plaintext key is shown exactly once
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "User created successfully",
		"api_key": apiKey,
		"user_id": user.ID,
	})
}

// POST /auth/login rotates the caller's API key and returns the new one.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials

	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.FindUserByName(creds.Name)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(creds.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating API key failed")
		return
	}

	if err := s.store.UpdateUserAPIKeyHash(user.ID, middleware.HashAPIKey(apiKey)); err != nil {
		log.Error("rotating API key for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"api_key": apiKey,
		"user_id": user.ID,
		"name":    user.Name,
	})
}

// GET /health
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /ws upgrades to a WebSocket carrying the caller's VM lifecycle events.
func (s *Server) WebSocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrading WebSocket connection: %v", err)
		return
	}

	broker.NewClient(user.ID, conn).Go()
}

func generateAPIKey() (string, error) {
	key := make([]byte, 32)

	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(key), nil
}
