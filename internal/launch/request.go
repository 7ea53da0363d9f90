package launch

import (
	"strings"
	"syscall"
)

// PipeFd in Request.StdFds asks for a fresh pipe for that stream.
const PipeFd = -1

var (
	// InheritStdio passes the launcher's own stdin, stdout and stderr.
	InheritStdio = [3]int{0, 1, 2}
	// PipeStdio connects all three streams to new pipes.
	PipeStdio = [3]int{PipeFd, PipeFd, PipeFd}
)

// Request is a caller's description of the process to start. Strings are
// treated as raw bytes; they need not be valid UTF-8.
type Request struct {
	Mode Mode
	// Program is the file to execute. A name without a slash is searched
	// for in the launcher's PATH.
	Program string
	// Argv is the full argument vector, including argv[0].
	Argv []string
	// Env replaces the environment when non-nil. An empty non-nil slice
	// starts the child with no environment at all.
	Env []string
	// Dir is the working directory; empty inherits the launcher's.
	Dir string
	// StdFds gives the descriptor for each std stream, or PipeFd.
	StdFds [3]int
	// RedirectErrorStream makes the child's stderr a copy of its stdout.
	RedirectErrorStream bool
}

// Descriptor is a validated, immutable copy of a Request.
type Descriptor struct {
	mode     Mode
	program  string
	argv     []string
	env      []string
	dir      string
	stdFds   [3]int
	redirect bool
}

// Build validates req and copies it into a Descriptor.
func Build(req Request) (*Descriptor, error) {
	if req.Program == "" {
		return nil, invalidArgument("program path is empty")
	}

	if hasNUL(req.Program) {
		return nil, invalidArgument("program path contains a NUL byte")
	}

	if len(req.Argv) == 0 {
		return nil, invalidArgument("argv is empty")
	}

	for i, a := range req.Argv {
		if hasNUL(a) {
			return nil, invalidArgument("argv[%d] contains a NUL byte", i)
		}
	}

	for i, kv := range req.Env {
		if hasNUL(kv) {
			return nil, invalidArgument("env[%d] contains a NUL byte", i)
		}

		if !strings.Contains(kv, "=") {
			return nil, invalidArgument("env[%d] %q is not KEY=VALUE", i, kv)
		}
	}

	if hasNUL(req.Dir) {
		return nil, invalidArgument("working directory contains a NUL byte")
	}

	for i, fd := range req.StdFds {
		if fd < 0 && fd != PipeFd {
			return nil, invalidArgument("std fd %d is %d", i, fd)
		}
	}

	if !req.Mode.valid() {
		return nil, invalidArgument("unknown mode %s", req.Mode)
	}

	d := &Descriptor{
		mode:     req.Mode.resolve(),
		program:  req.Program,
		argv:     append([]string(nil), req.Argv...),
		dir:      req.Dir,
		stdFds:   req.StdFds,
		redirect: req.RedirectErrorStream,
	}

	if req.Env != nil {
		d.env = append(make([]string, 0, len(req.Env)), req.Env...)
	}

	return d, nil
}

func hasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

func (d *Descriptor) Mode() Mode                { return d.mode }
func (d *Descriptor) Program() string           { return d.program }
func (d *Descriptor) Argv() []string            { return append([]string(nil), d.argv...) }
func (d *Descriptor) Dir() string               { return d.dir }
func (d *Descriptor) StdFds() [3]int            { return d.stdFds }
func (d *Descriptor) RedirectErrorStream() bool { return d.redirect }

// Env returns nil when the child inherits the launcher's environment.
func (d *Descriptor) Env() []string {
	if d.env == nil {
		return nil
	}

	return append([]string{}, d.env...)
}

// wantsPipe reports whether stream i needs a new pipe.
func (d *Descriptor) wantsPipe(i int) bool {
	return d.stdFds[i] == PipeFd
}

// argvBlock returns argv as C strings with one spare leading slot, used to
// rewrite the vector as "/bin/sh file args..." without reallocating, and a
// trailing nil.
func argvBlock(argv []string) ([]*byte, error) {
	block := make([]*byte, len(argv)+2)

	for i, a := range argv {
		p, err := syscall.BytePtrFromString(a)
		if err != nil {
			return nil, err
		}

		block[i+1] = p
	}

	return block, nil
}

// cStrings returns a nil-terminated vector of C strings.
func cStrings(ss []string) ([]*byte, error) {
	v := make([]*byte, len(ss)+1)

	for i, s := range ss {
		p, err := syscall.BytePtrFromString(s)
		if err != nil {
			return nil, err
		}

		v[i] = p
	}

	return v, nil
}
