// Package web serves the provisioner's HTTP API.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/NadimPy/virtualization-implementation/api/vm"
	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/store"
	"github.com/NadimPy/virtualization-implementation/types"
	"github.com/NadimPy/virtualization-implementation/web/broker"
	"github.com/NadimPy/virtualization-implementation/web/middleware"

	log "github.com/activeshadow/libminimega/minilog"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// provisioner is the slice of the coordinator the handlers drive.
type provisioner interface {
	Create(ctx context.Context, owner *types.User, req *vm.CreateRequest) (*types.VM, error)
	Delete(ctx context.Context, ownerID, id string) error
	Get(ctx context.Context, ownerID, id string) (*types.VM, error)
	List(ctx context.Context, ownerID string) ([]types.VM, error)
}

type Server struct {
	settings    config.Settings
	store       store.Store
	coordinator provisioner
}

func NewServer(settings config.Settings, s store.Store, c provisioner) *Server {
	return &Server{
		settings:    settings,
		store:       s,
		coordinator: c,
	}
}

// Router builds the route table. Every route except signup, login, and
// health sits behind the API key middleware.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	router.Use(middleware.Auth(s.store))

	router.HandleFunc("/vms", s.CreateVM).Methods("POST")
	router.HandleFunc("/vms", s.GetVMs).Methods("GET")
	router.HandleFunc("/vms/{id}", s.GetVM).Methods("GET")
	router.HandleFunc("/vms/{id}", s.DeleteVM).Methods("DELETE")
	router.HandleFunc("/images", s.GetImages).Methods("GET")
	router.HandleFunc("/auth/signup", s.Signup).Methods("POST")
	router.HandleFunc("/auth/login", s.Login).Methods("POST")
	router.HandleFunc("/health", s.Health).Methods("GET")
	router.HandleFunc("/ws", s.WebSocket).Methods("GET")

	return router
}

// Start serves the API until the context is canceled, then shuts down
// gracefully. Long-running provisionings block only their own handler
// goroutine; the accept loop stays responsive.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	go broker.Start(ctx)

	srv := &http.Server{
		Addr:    endpoint,
		Handler: s.Router(),
	}

	errs := make(chan error, 1)

	go func() {
		errs <- srv.ListenAndServe()
	}()

	log.Info("serving API on %s", endpoint)

	select {
	case err := <-errs:
		return errors.Wrap(err, "serving API")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}
