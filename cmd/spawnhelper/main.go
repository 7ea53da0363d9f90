//go:build unix

// Command spawnhelper is started by spawn's launcher in helper mode. It
// receives a serialized launch request on an inherited pipe and execs the
// requested program in place of itself.
package main

import (
	"os"

	"github.com/musher-dev/spawn/internal/helper"
)

func main() {
	os.Exit(helper.Main(os.Args))
}
