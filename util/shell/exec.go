package shell

import (
	"bytes"
	"context"
	"os/exec"
)

type shell struct{}

func (shell) CommandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

func (shell) ExecCommand(ctx context.Context, opts ...Option) ([]byte, []byte, error) {
	o := newOptions(opts...)

	var (
		stdOut bytes.Buffer
		stdErr bytes.Buffer
	)

	cmd := exec.CommandContext(ctx, o.cmd, o.args...)
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	if o.stdin != nil {
		cmd.Stdin = bytes.NewBuffer(o.stdin)
	}

	err := cmd.Run()

	return stdOut.Bytes(), stdErr.Bytes(), err
}
