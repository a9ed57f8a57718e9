package shell

// Resolve applies the given options and returns the command, arguments, and
// stdin they describe. Tests use it to assert on mocked ExecCommand calls.
func Resolve(opts ...Option) (string, []string, []byte) {
	o := newOptions(opts...)
	return o.cmd, o.args, o.stdin
}
