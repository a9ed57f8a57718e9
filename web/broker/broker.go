// Package broker pushes VM lifecycle events to connected WebSocket clients.
// Events are scoped to the VM's owner; a client only sees events for
// machines it owns.
package broker

import (
	"context"
	"encoding/json"

	"github.com/NadimPy/virtualization-implementation/types"
)

// Publish is one lifecycle event as sent over the wire.
type Publish struct {
	Event string   `json:"event"`
	VM    types.VM `json:"vm"`
}

var (
	clients    = make(map[*Client]bool)
	broadcast  = make(chan Publish)
	register   = make(chan *Client)
	unregister = make(chan *Client)

	// closed when Start returns; sends into the loop select on it so a
	// publish during graceful shutdown cannot block forever
	stopped = make(chan struct{})
)

// Start runs the broker loop until the context is canceled. Clients that
// cannot keep up with the broadcast stream are dropped.
func Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for cli := range clients {
				cli.Stop()
			}
			close(stopped)
			return
		case cli := <-register:
			clients[cli] = true
		case cli := <-unregister:
			if _, ok := clients[cli]; ok {
				delete(clients, cli)
			}
		case pub := <-broadcast:
			msg, err := json.Marshal(pub)
			if err != nil {
				continue
			}

			for cli := range clients {
				if cli.ownerID != pub.VM.OwnerID {
					continue
				}

				select {
				case cli.publish <- msg:
				default:
					cli.Stop()
					delete(clients, cli)
				}
			}
		}
	}
}

// Broadcast queues a lifecycle event for delivery to the VM owner's clients.
// Once the broker has shut down it becomes a no-op.
func Broadcast(event string, vm types.VM) {
	select {
	case broadcast <- Publish{Event: event, VM: vm}:
	case <-stopped:
	}
}

// Events adapts the broker to the coordinator's publisher seam.
type Events struct{}

func (Events) Publish(event string, vm types.VM) {
	Broadcast(event, vm)
}
