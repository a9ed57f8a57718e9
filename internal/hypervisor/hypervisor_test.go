package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/NadimPy/virtualization-implementation/util/shell"

	"github.com/golang/mock/gomock"
)

const testURI = "qemu:///system"

// virshMock swaps the default shell for a mock that dispatches on the virsh
// subcommand. Each handler gets the full argument list after "-c <uri>".
func virshMock(t *testing.T, ctrl *gomock.Controller, handler func(args []string, stdin []byte) ([]byte, []byte, error)) {
	t.Helper()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	t.Cleanup(func() { shell.DefaultShell = restore })

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts ...shell.Option) ([]byte, []byte, error) {
			cmd, args, stdin := shell.Resolve(opts...)

			if cmd != "virsh" {
				t.Logf("unexpected command %s", cmd)
				t.FailNow()
			}

			if len(args) < 3 || args[0] != "-c" || args[1] != testURI {
				t.Logf("missing connection args: %v", args)
				t.FailNow()
			}

			return handler(args[2:], stdin)
		},
	).AnyTimes()
}

func TestDefineAndStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls []string

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		calls = append(calls, args[0])

		if args[0] == "define" {
			if string(stdin) != "<domain/>" {
				t.Logf("definition not passed on stdin: %q", stdin)
				t.FailNow()
			}
		}

		return nil, nil, nil
	})

	a := NewAdapter(testURI)

	if err := a.DefineAndStart(context.Background(), "<domain/>", "uuid-1"); err != nil {
		t.Log(err)
		t.FailNow()
	}

	want := "uri define start"
	if got := strings.Join(calls, " "); got != want {
		t.Logf("call order %q, want %q", got, want)
		t.FailNow()
	}
}

func TestDefineAndStartUndefinesOnStartFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var undefined bool

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		switch args[0] {
		case "start":
			return nil, []byte("error: internal error"), errors.New("exit status 1")
		case "undefine":
			undefined = true
		}
		return nil, nil, nil
	})

	a := NewAdapter(testURI)

	if err := a.DefineAndStart(context.Background(), "<domain/>", "uuid-2"); err == nil {
		t.Log("expected start failure")
		t.FailNow()
	}

	if !undefined {
		t.Log("definition leaked after failed start")
		t.FailNow()
	}
}

func TestProbeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		return nil, []byte("error: failed to connect"), errors.New("exit status 1")
	})

	a := NewAdapter(testURI)

	_, err := a.DomainState(context.Background(), "uuid-3")
	if !errors.Is(err, ErrHypervisor) {
		t.Logf("expected ErrHypervisor, got %v", err)
		t.FailNow()
	}
}

func TestDomainState(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	states := map[string]State{
		"running":     StateRunning,
		"shut off":    StateShutoff,
		"paused":      StatePaused,
		"in shutdown": StateShutdown,
		"pmsuspended": StateSuspended,
		"gibberish":   StateUnknown,
	}

	for raw, want := range states {
		virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
			if args[0] == "domstate" {
				return []byte(raw + "\n\n"), nil, nil
			}
			return nil, nil, nil
		})

		a := NewAdapter(testURI)

		got, err := a.DomainState(context.Background(), "uuid-4")
		if err != nil {
			t.Log(err)
			t.FailNow()
		}

		if got != want {
			t.Logf("state for %q: got %s, want %s", raw, got, want)
			t.FailNow()
		}
	}
}

func TestDestroyMissingDomain(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		if args[0] == "domstate" {
			return nil, []byte("error: failed to get domain 'uuid-5'"), errors.New("exit status 1")
		}
		return nil, nil, nil
	})

	a := NewAdapter(testURI)
	a.probed = true

	// destroying an already-gone domain must succeed for cleanup paths
	if err := a.Destroy(context.Background(), "uuid-5", true); err != nil {
		t.Log(err)
		t.FailNow()
	}
}

func TestDestroyStopsRunningDomain(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls []string

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		calls = append(calls, args[0])
		if args[0] == "domstate" {
			return []byte("running\n"), nil, nil
		}
		return nil, nil, nil
	})

	a := NewAdapter(testURI)
	a.probed = true

	if err := a.Destroy(context.Background(), "uuid-6", true); err != nil {
		t.Log(err)
		t.FailNow()
	}

	want := "domstate destroy undefine"
	if got := strings.Join(calls, " "); got != want {
		t.Logf("call order %q, want %q", got, want)
		t.FailNow()
	}
}

func TestDestroySurvivesStateProbeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls []string

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		calls = append(calls, args[0])
		if args[0] == "domstate" {
			return nil, []byte("error: Timed out during operation"), errors.New("exit status 1")
		}
		return nil, nil, nil
	})

	a := NewAdapter(testURI)
	a.probed = true

	// a transient state query failure must not skip destroy and undefine,
	// or cleanup would leak the defined domain
	if err := a.Destroy(context.Background(), "uuid-9", true); err != nil {
		t.Log(err)
		t.FailNow()
	}

	// the failed domstate drops the probe, so destroy re-probes first
	want := "domstate uri destroy undefine"
	if got := strings.Join(calls, " "); got != want {
		t.Logf("call order %q, want %q", got, want)
		t.FailNow()
	}
}

func TestInterfaceAddresses(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	out := ` vnet0      52:54:00:11:22:33    ipv4         192.168.122.45/24
 -          -                    ipv4         192.168.122.46/24
`

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		if len(args) >= 2 && args[1] == "domifaddr" {
			if fmt.Sprint(args) != fmt.Sprint([]string{"-q", "domifaddr", "uuid-7", "--source", "lease"}) {
				t.Logf("unexpected domifaddr args %v", args)
				t.FailNow()
			}
			return []byte(out), nil, nil
		}
		return nil, nil, nil
	})

	a := NewAdapter(testURI)
	a.probed = true

	ifaces, err := a.InterfaceAddresses(context.Background(), "uuid-7", SourceLease)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if len(ifaces) != 1 {
		t.Logf("expected 1 interface, got %d", len(ifaces))
		t.FailNow()
	}

	if ifaces[0].HWAddr != "52:54:00:11:22:33" {
		t.Logf("unexpected hwaddr %s", ifaces[0].HWAddr)
		t.FailNow()
	}

	if len(ifaces[0].Addrs) != 2 || ifaces[0].Addrs[0] != "192.168.122.45" {
		t.Logf("unexpected addrs %v", ifaces[0].Addrs)
		t.FailNow()
	}
}

func TestInterfaceMACs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	out := ` vnet0      network   default   virtio   52:54:00:AA:BB:CC
`

	virshMock(t, ctrl, func(args []string, stdin []byte) ([]byte, []byte, error) {
		if len(args) >= 2 && args[1] == "domiflist" {
			return []byte(out), nil, nil
		}
		return nil, nil, nil
	})

	a := NewAdapter(testURI)
	a.probed = true

	macs, err := a.InterfaceMACs(context.Background(), "uuid-8")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if len(macs) != 1 || macs[0] != "52:54:00:aa:bb:cc" {
		t.Logf("unexpected macs %v", macs)
		t.FailNow()
	}
}

func TestQuietRefCounting(t *testing.T) {
	a := NewAdapter(testURI)

	r1 := a.Quiet()
	r2 := a.Quiet()

	if a.suppress != 2 {
		t.Logf("suppress count %d, want 2", a.suppress)
		t.FailNow()
	}

	r1()
	r1() // double release must not decrement twice

	if a.suppress != 1 {
		t.Logf("suppress count %d, want 1", a.suppress)
		t.FailNow()
	}

	r2()

	if a.suppress != 0 {
		t.Logf("suppress count %d, want 0", a.suppress)
		t.FailNow()
	}
}
