// Package pathvec computes the search path used to locate programs whose
// name carries no directory component.
//
// The vector is derived from PATH exactly once per process and is read-only
// afterward, so it can be shared by concurrent launches without locking.
package pathvec

import (
	"os"
	"strings"
	"syscall"
)

const (
	// EnvPath is the environment variable the vector is derived from.
	EnvPath = "PATH"

	// DefaultPath is used when PATH is unset. The leading empty segment
	// searches the current directory first, matching historical execvp.
	DefaultPath = ":/bin:/usr/bin"

	// CurrentDir replaces empty PATH segments.
	CurrentDir = "."

	// Separator splits PATH segments.
	Separator = ":"
)

// Vector is an ordered list of directories to search.
type Vector []string

// LookupFunc reports the value of an environment variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// Resolve builds the vector from PATH as reported by lookup, falling back to
// DefaultPath when PATH is unset. A nil lookup reads the process environment.
// An empty but set PATH yields a single current-directory entry.
func Resolve(lookup LookupFunc) Vector {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	path, ok := lookup(EnvPath)
	if !ok {
		path = DefaultPath
	}

	return Split(path)
}

// Split splits path on Separator. It always yields count(Separator)+1
// entries, mapping every empty segment (leading, inner or trailing) to
// CurrentDir.
func Split(path string) Vector {
	segments := strings.Split(path, Separator)

	v := make(Vector, len(segments))
	for i, seg := range segments {
		if seg == "" {
			seg = CurrentDir
		}

		v[i] = seg
	}

	return v
}

// String joins the vector back into PATH form. Current-directory markers are
// kept explicit.
func (v Vector) String() string {
	return strings.Join(v, Separator)
}

// Candidates returns the paths to try, in order, when executing name. A name
// containing a slash is used as-is; otherwise it is joined with every entry.
// An empty name yields nothing.
func (v Vector) Candidates(name string) []string {
	if name == "" {
		return nil
	}

	if strings.Contains(name, "/") {
		return []string{name}
	}

	out := make([]string, 0, len(v))
	for _, dir := range v {
		out = append(out, join(dir, name))
	}

	return out
}

// join concatenates without filepath.Join's cleaning so "." stays "./name"
// and a trailing slash in dir is not doubled.
func join(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}

	return dir + "/" + name
}

// Interpreter runs files that the kernel refuses to execute with ENOEXEC,
// as "Interpreter file args...".
const Interpreter = "/bin/sh"

// Skippable reports whether a search moves on to the next candidate after
// exec fails with errno. EACCES is not skippable on its own: searches keep
// going but remember it, and report it if no later candidate works.
func Skippable(errno syscall.Errno) bool {
	switch errno {
	case syscall.ENOENT, syscall.ENOTDIR, syscall.ELOOP, syscall.ESTALE, syscall.ENODEV, syscall.ETIMEDOUT:
		return true
	default:
		return false
	}
}
