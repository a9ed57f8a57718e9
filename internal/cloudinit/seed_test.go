package cloudinit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
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

func TestUserDataTemplate(t *testing.T) {
	var buf bytes.Buffer

	data := struct {
		VMID     string
		Hostname string
		Username string
		SSHKey   string
		MAC      string
	}{"id-1", "my-vm", "debian", "ssh-ed25519 AAAA test@host", ""}

	if err := userDataTemplate.Execute(&buf, data); err != nil {
		t.Log(err)
		t.FailNow()
	}

	out := buf.String()

	for _, want := range []string{
		"#cloud-config",
		"hostname: my-vm",
		"name: debian",
		"sudo: ALL=(ALL) NOPASSWD:ALL",
		"ssh_authorized_keys:",
		"ssh-ed25519 AAAA test@host",
	} {
		if !strings.Contains(out, want) {
			t.Logf("user-data missing %q:\n%s", want, out)
			t.FailNow()
		}
	}
}

func TestMetaDataTemplate(t *testing.T) {
	var buf bytes.Buffer

	data := struct {
		VMID     string
		Hostname string
		Username string
		SSHKey   string
		MAC      string
	}{"test-uuid-123", "my-vm", "", "", ""}

	if err := metaDataTemplate.Execute(&buf, data); err != nil {
		t.Log(err)
		t.FailNow()
	}

	out := buf.String()

	if !strings.Contains(out, "instance-id: test-uuid-123") {
		t.Logf("meta-data missing instance id:\n%s", out)
		t.FailNow()
	}

	if !strings.Contains(out, "hostname: my-vm") {
		t.Logf("meta-data missing hostname:\n%s", out)
		t.FailNow()
	}
}

func TestBuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	defer func() { shell.DefaultShell = restore }()

	s := testSettings(t)

	b := NewBuilder(s)

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts ...shell.Option) ([]byte, []byte, error) {
			cmd, args, _ := shell.Resolve(opts...)

			if cmd != "genisoimage" {
				t.Logf("unexpected command %s", cmd)
				t.FailNow()
			}

			if args[0] != "-output" || args[2] != "-volid" || args[3] != "cidata" {
				t.Logf("unexpected args %v", args)
				t.FailNow()
			}

			scratch := args[len(args)-1]

			// MAC supplied, so all three seed files must be present
			for _, name := range []string{"user-data", "meta-data", "network-config"} {
				if _, err := os.Stat(filepath.Join(scratch, name)); err != nil {
					t.Logf("missing seed file %s: %v", name, err)
					t.FailNow()
				}
			}

			content, err := os.ReadFile(filepath.Join(scratch, "network-config"))
			if err != nil {
				t.Log(err)
				t.FailNow()
			}

			if !strings.Contains(string(content), `macaddress: "52:54:00:aa:bb:cc"`) {
				t.Logf("network-config missing MAC:\n%s", content)
				t.FailNow()
			}

			// stand in for the generated image so the rename succeeds
			return nil, nil, os.WriteFile(args[1], []byte("iso"), 0644)
		},
	)

	path, err := b.Build(context.Background(), "vm-1", "my-vm", "debian-12", "ssh-ed25519 AAAA", "52:54:00:aa:bb:cc")
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if path != filepath.Join(s.CloudInitDir(), "vm-1.iso") {
		t.Logf("unexpected ISO path %s", path)
		t.FailNow()
	}

	if _, err := os.Stat(path); err != nil {
		t.Logf("ISO not placed: %v", err)
		t.FailNow()
	}
}

func TestBuildNoMAC(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mock := shell.NewMockShell(ctrl)

	restore := shell.DefaultShell
	shell.DefaultShell = mock
	defer func() { shell.DefaultShell = restore }()

	s := testSettings(t)

	b := NewBuilder(s)

	mock.EXPECT().ExecCommand(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, opts ...shell.Option) ([]byte, []byte, error) {
			_, args, _ := shell.Resolve(opts...)

			scratch := args[len(args)-1]

			if _, err := os.Stat(filepath.Join(scratch, "network-config")); !os.IsNotExist(err) {
				t.Log("network-config written without a MAC")
				t.FailNow()
			}

			return nil, nil, os.WriteFile(args[1], []byte("iso"), 0644)
		},
	)

	if _, err := b.Build(context.Background(), "vm-2", "my-vm", "alpine", "ssh-ed25519 AAAA", ""); err != nil {
		t.Log(err)
		t.FailNow()
	}
}

func TestBuildUnknownImage(t *testing.T) {
	b := NewBuilder(testSettings(t))

	if _, err := b.Build(context.Background(), "vm-3", "my-vm", "windows-95", "key", ""); err == nil {
		t.Log("expected error for unknown image type")
		t.FailNow()
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := testSettings(t)

	b := NewBuilder(s)

	if err := os.WriteFile(b.Path("vm-4"), []byte("iso"), 0644); err != nil {
		t.Log(err)
		t.FailNow()
	}

	if err := b.Delete("vm-4"); err != nil {
		t.Log(err)
		t.FailNow()
	}

	if err := b.Delete("vm-4"); err != nil {
		t.Log(err)
		t.FailNow()
	}
}
