// Package handoff implements the wire format used to hand a launch
// descriptor from the launcher to the spawn helper over an anonymous pipe.
//
// The stream is written once and read once:
//
//	word    uint32   magic tag (high 16 bits) | protocol version (low 16 bits)
//	header  28 bytes stdio fds, control fds, mode, flags
//	sizes   32 bytes program length, then element counts and byte lengths
//	        of each sequence section
//	body    program, argv, env, dir and search path as NUL-terminated strings
//
// All integers are little-endian. Sequence counts include one trailing
// sentinel, so an empty sequence encodes a count of one and an absent
// sequence (env only) a count of zero. The helper must read exactly the
// advertised number of bytes; a short read is a protocol failure, never a
// partial success.
package handoff
