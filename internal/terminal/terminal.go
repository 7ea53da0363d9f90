// Package terminal reports what the controlling terminal can do and puts
// it into raw mode while `spawn run --pty` relays a child's session.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY     bool
	NoColor   bool
	Width     int
	Height    int
	ForceFlag bool // Set when --no-color flag is used
}

// Detect returns terminal information for the current environment.
func Detect() *Info {
	stdoutFD := int(os.Stdout.Fd())
	isTTY := term.IsTerminal(stdoutFD)

	width, height := 80, 24

	if isTTY {
		if w, h, err := term.GetSize(stdoutFD); err == nil {
			width, height = w, h
		}
	}

	// https://no-color.org/
	_, noColor := os.LookupEnv("NO_COLOR")

	if os.Getenv("TERM") == "dumb" {
		noColor = true
	}

	return &Info{
		IsTTY:   isTTY,
		NoColor: noColor,
		Width:   width,
		Height:  height,
	}
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}

// IsTerminal reports whether f refers to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// MakeRaw switches f to raw mode when it is a terminal. The returned
// restore function is always safe to call, including when f was not a
// terminal.
func MakeRaw(f *os.File) (restore func(), err error) {
	if !IsTerminal(f) {
		return func() {}, nil
	}

	fd := int(f.Fd())

	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, err
	}

	return func() { _ = term.Restore(fd, state) }, nil
}

// Size returns the window size of f, or 80x24 when it is not a terminal.
func Size(f *os.File) (width, height int) {
	if IsTerminal(f) {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			return w, h
		}
	}

	return 80, 24
}
