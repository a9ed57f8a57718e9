package nat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/NadimPy/virtualization-implementation/types"
	"github.com/NadimPy/virtualization-implementation/util/shell"

	"github.com/golang/mock/gomock"
)

func iptablesMock(t *testing.T, ctrl *gomock.Controller, handler func(args []string) error) {
	t.Helper()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	t.Cleanup(func() { shell.DefaultShell = restore })

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts ...shell.Option) ([]byte, []byte, error) {
			cmd, args, _ := shell.Resolve(opts...)

			if cmd != "iptables" {
				t.Logf("unexpected command %s", cmd)
				t.FailNow()
			}

			if err := handler(args); err != nil {
				return nil, []byte(err.Error()), err
			}

			return nil, nil, nil
		},
	).AnyTimes()
}

func TestAddInstallsThreeRules(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls []string

	iptablesMock(t, ctrl, func(args []string) error {
		calls = append(calls, strings.Join(args, " "))
		return nil
	})

	m := NewManager()

	if err := m.Add(context.Background(), 2222, "192.168.122.45"); err != nil {
		t.Log(err)
		t.FailNow()
	}

	want := []string{
		"-t nat -A PREROUTING -p tcp --dport 2222 -j DNAT --to-destination 192.168.122.45:22",
		"-I FORWARD 1 -p tcp -d 192.168.122.45 --dport 22 -m conntrack --ctstate NEW,ESTABLISHED,RELATED -j ACCEPT",
		"-t nat -A POSTROUTING -p tcp -d 192.168.122.45 --dport 22 -j MASQUERADE",
	}

	if len(calls) != len(want) {
		t.Logf("expected %d iptables calls, got %d: %v", len(want), len(calls), calls)
		t.FailNow()
	}

	for i := range want {
		if calls[i] != want[i] {
			t.Logf("rule %d:\n got  %s\n want %s", i, calls[i], want[i])
			t.FailNow()
		}
	}
}

func TestAddRollsBackOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls []string

	iptablesMock(t, ctrl, func(args []string) error {
		calls = append(calls, strings.Join(args[:2], " "))

		// fail the POSTROUTING masquerade, the third rule
		if strings.Contains(strings.Join(args, " "), "POSTROUTING") {
			return errors.New("iptables: No chain/target/match by that name")
		}

		return nil
	})

	m := NewManager()

	err := m.Add(context.Background(), 2222, "192.168.122.45")
	if !errors.Is(err, ErrInstall) {
		t.Logf("expected ErrInstall, got %v", err)
		t.FailNow()
	}

	// 3 installs attempted, then the 2 installed rules removed in reverse
	want := []string{"-t nat", "-I FORWARD", "-t nat", "-D FORWARD", "-t nat"}

	if len(calls) != len(want) {
		t.Logf("expected %d calls, got %d: %v", len(want), len(calls), calls)
		t.FailNow()
	}

	for i := range want {
		if calls[i] != want[i] {
			t.Logf("call %d: got %s, want %s", i, calls[i], want[i])
			t.FailNow()
		}
	}
}

func TestRemoveSwallowsFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls int

	iptablesMock(t, ctrl, func(args []string) error {
		calls++
		return errors.New("iptables: Bad rule")
	})

	m := NewManager()

	// all three deletes attempted even though each fails
	m.Remove(context.Background(), 2222, "192.168.122.45")

	if calls != 3 {
		t.Logf("expected 3 delete attempts, got %d", calls)
		t.FailNow()
	}
}

func TestRestoreSkipsIncompleteRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var calls int

	iptablesMock(t, ctrl, func(args []string) error {
		calls++
		return nil
	})

	m := NewManager()

	vms := []types.VM{
		{ID: "vm-1", HostPort: 2222, IP: "192.168.122.45"},
		{ID: "vm-2", HostPort: 2223}, // no IP discovered, nothing to restore
	}

	m.Restore(context.Background(), vms)

	// vm-1: 3 removes + 3 adds
	if calls != 6 {
		t.Logf("expected 6 iptables calls, got %d", calls)
		t.FailNow()
	}
}
