// Package buildinfo holds values stamped in at link time. The launcher and
// spawnhelper compare Version during the helper handshake, so both binaries
// must come from the same build.
package buildinfo

var (
	Version = "dev"
	Commit  = "none"
)
