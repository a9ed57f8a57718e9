package qemu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/NadimPy/virtualization-implementation/config"
	"github.com/NadimPy/virtualization-implementation/util/shell"

	"github.com/golang/mock/gomock"
)

func testSettings(t *testing.T) config.Settings {
	t.Helper()

	s := config.Settings{DataDir: t.TempDir()}

	if err := s.EnsureDirectories(); err != nil {
		t.Log(err)
		t.FailNow()
	}

	return s
}

func writeTemplate(t *testing.T, s config.Settings, imageType string) {
	t.Helper()

	if err := os.WriteFile(s.TemplatePath(imageType), []byte("qcow2"), 0644); err != nil {
		t.Log(err)
		t.FailNow()
	}
}

func TestCloneMissingTemplate(t *testing.T) {
	s := testSettings(t)

	m := NewManager(s)

	_, err := m.Clone(context.Background(), "vm-1", "debian-12")
	if !errors.Is(err, ErrTemplateMissing) {
		t.Logf("expected ErrTemplateMissing, got %v", err)
		t.FailNow()
	}
}

func TestClone(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	defer func() { shell.DefaultShell = restore }()

	s := testSettings(t)
	writeTemplate(t, s, "debian-12")

	m := NewManager(s)

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts ...shell.Option) ([]byte, []byte, error) {
			cmd, args, _ := shell.Resolve(opts...)

			if cmd != "qemu-img" {
				t.Logf("unexpected command %s", cmd)
				t.FailNow()
			}

			want := []string{
				"create", "-f", "qcow2", "-F", "qcow2",
				"-b", s.TemplatePath("debian-12"), m.Path("vm-1"),
			}

			if fmt.Sprint(args) != fmt.Sprint(want) {
				t.Logf("unexpected args %v", args)
				t.FailNow()
			}

			return nil, nil, nil
		},
	)

	path, err := m.Clone(context.Background(), "vm-1", "debian-12")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if path != filepath.Join(s.InstanceDir(), "vm-1.qcow2") {
		t.Logf("unexpected clone path %s", path)
		t.FailNow()
	}
}

func TestCloneFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	defer func() { shell.DefaultShell = restore }()

	s := testSettings(t)
	writeTemplate(t, s, "alpine")

	m := NewManager(s)

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).Return(
		nil, []byte("qemu-img: permission denied"), errors.New("exit status 1"),
	)

	_, err := m.Clone(context.Background(), "vm-2", "alpine")
	if !errors.Is(err, ErrCloneFailed) {
		t.Logf("expected ErrCloneFailed, got %v", err)
		t.FailNow()
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := testSettings(t)

	m := NewManager(s)

	if err := os.WriteFile(m.Path("vm-3"), []byte("qcow2"), 0644); err != nil {
		t.Log(err)
		t.FailNow()
	}

	if err := m.Delete("vm-3"); err != nil {
		t.Log(err)
		t.FailNow()
	}

	// second delete must not error
	if err := m.Delete("vm-3"); err != nil {
		t.Log(err)
		t.FailNow()
	}
}

func TestDiskInfo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	defer func() { shell.DefaultShell = restore }()

	s := testSettings(t)

	m := NewManager(s)

	if err := os.WriteFile(m.Path("vm-4"), []byte("qcow2"), 0644); err != nil {
		t.Log(err)
		t.FailNow()
	}

	out := fmt.Sprintf(
		`{"filename": %q, "format": "qcow2", "virtual-size": 10737418240, "actual-size": 197120, "backing-filename": %q}`,
		m.Path("vm-4"), s.TemplatePath("debian-12"),
	)

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).Return([]byte(out), nil, nil)

	info, err := m.DiskInfo(context.Background(), "vm-4")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if info.Format != "qcow2" || info.VirtualSize != 10737418240 {
		t.Logf("unexpected info %+v", info)
		t.FailNow()
	}

	if info.BackingFile != s.TemplatePath("debian-12") {
		t.Logf("unexpected backing file %s", info.BackingFile)
		t.FailNow()
	}
}

func TestResize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	defer func() { shell.DefaultShell = restore }()

	s := testSettings(t)

	m := NewManager(s)

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts ...shell.Option) ([]byte, []byte, error) {
			_, args, _ := shell.Resolve(opts...)

			want := []string{"resize", m.Path("vm-5"), "20G"}

			if fmt.Sprint(args) != fmt.Sprint(want) {
				t.Logf("unexpected args %v", args)
				t.FailNow()
			}

			return nil, nil, nil
		},
	)

	if err := m.Resize(context.Background(), "vm-5", 20); err != nil {
		t.Log(err)
		t.FailNow()
	}
}
