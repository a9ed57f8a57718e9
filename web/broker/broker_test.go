package broker

import (
	"context"
	"testing"
	"time"

	"github.com/NadimPy/virtualization-implementation/types"
)

func TestBroadcastAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go Start(ctx)
	cancel()

	<-stopped

	// a provisioning finishing during graceful shutdown publishes its
	// event with no loop left to receive it; the call must not block
	returned := make(chan struct{})

	go func() {
		Broadcast("created", types.VM{OwnerID: "alice"})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Log("Broadcast blocked after broker shutdown")
		t.FailNow()
	}
}
