package handoff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ProtocolVersion is bumped whenever the layout below changes.
const ProtocolVersion uint16 = 1

const (
	magicTag  uint32 = 0x534E0000 // "SN"
	magicMask uint32 = 0xFFFF0000

	// WordLen is the size of the leading magic/version word.
	WordLen = 4
	// HeaderLen is the size of the fixed header record.
	HeaderLen = 28
	// SizesLen is the size of the section size record.
	SizesLen = 32
	// PreambleLen is everything before the variable-length body.
	PreambleLen = WordLen + HeaderLen + SizesLen

	// MaxSectionBytes bounds every variable-length section. ARG_MAX on
	// Linux is far smaller, so anything above this is a corrupt stream.
	MaxSectionBytes = 16 << 20
)

// Header flags.
const (
	FlagRedirectErrorStream uint32 = 1 << 0
	FlagSendAlive           uint32 = 1 << 1
)

var (
	ErrBadMagic        = errors.New("handoff: bad magic")
	ErrVersionMismatch = errors.New("handoff: protocol version mismatch")
	ErrTruncated       = errors.New("handoff: truncated stream")
	ErrMalformed       = errors.New("handoff: malformed section")
	ErrTooLarge        = errors.New("handoff: section too large")
	ErrNUL             = errors.New("handoff: string contains NUL byte")
)

var order = binary.LittleEndian

// Word returns the magic/version word for this build.
func Word() uint32 {
	return magicTag | uint32(ProtocolVersion)
}

// CheckWord validates a received magic/version word.
func CheckWord(w uint32) error {
	if w&magicMask != magicTag {
		return fmt.Errorf("%w: 0x%08x", ErrBadMagic, w)
	}

	if v := uint16(w &^ magicMask); v != ProtocolVersion {
		return fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, v, ProtocolVersion)
	}

	return nil
}

// Header is the fixed-size record describing descriptors and flags.
type Header struct {
	StdFds    [3]int32
	HandoffFd int32
	FailFd    int32
	Mode      uint32
	Flags     uint32
}

// RedirectErrorStream reports whether stderr is merged into stdout.
func (h Header) RedirectErrorStream() bool { return h.Flags&FlagRedirectErrorStream != 0 }

// SendAlive reports whether the helper must acknowledge before exec.
func (h Header) SendAlive() bool { return h.Flags&FlagSendAlive != 0 }

// Sizes gives element counts (including the sentinel) and byte lengths of
// each body section.
type Sizes struct {
	ProgLen   uint32
	NArgv     uint32
	ArgvBytes uint32
	NEnv      uint32
	EnvBytes  uint32
	DirLen    uint32
	NPath     uint32
	PathBytes uint32
}

// BodyLen is the total number of body bytes that follow the preamble.
func (s Sizes) BodyLen() int {
	return int(s.ProgLen) + int(s.ArgvBytes) + int(s.EnvBytes) + int(s.DirLen) + int(s.PathBytes)
}

func (s Sizes) validate() error {
	for _, n := range []uint32{s.ProgLen, s.ArgvBytes, s.EnvBytes, s.DirLen, s.PathBytes} {
		if n > MaxSectionBytes {
			return ErrTooLarge
		}
	}

	if s.ProgLen < 2 {
		return fmt.Errorf("%w: empty program path", ErrMalformed)
	}

	if s.NArgv < 2 {
		return fmt.Errorf("%w: argv needs at least one element", ErrMalformed)
	}

	if s.NEnv == 0 && s.EnvBytes != 0 {
		return fmt.Errorf("%w: env bytes without elements", ErrMalformed)
	}

	if s.NPath == 0 {
		return fmt.Errorf("%w: search path missing sentinel", ErrMalformed)
	}

	return nil
}

// Payload is everything the helper needs to finish the launch.
type Payload struct {
	Header Header
	// Program is the file to execute; it may differ from Argv[0].
	Program string
	Argv    []string
	// Env nil means inherit the helper's environment.
	Env []string
	// Dir empty means inherit the working directory.
	Dir  string
	Path []string
}

// SizesOf is the first encoding pass: it measures every section without
// allocating the output buffer.
func SizesOf(p *Payload) (Sizes, error) {
	var (
		s   Sizes
		err error
	)

	if p.Program == "" {
		return Sizes{}, fmt.Errorf("%w: empty program path", ErrMalformed)
	}

	if strings.IndexByte(p.Program, 0) >= 0 {
		return Sizes{}, ErrNUL
	}

	s.ProgLen = uint32(len(p.Program) + 1)

	if len(p.Argv) == 0 {
		return Sizes{}, fmt.Errorf("%w: empty argv", ErrMalformed)
	}

	if s.NArgv, s.ArgvBytes, err = measure(p.Argv); err != nil {
		return Sizes{}, err
	}

	if p.Env != nil {
		if s.NEnv, s.EnvBytes, err = measure(p.Env); err != nil {
			return Sizes{}, err
		}
	}

	if p.Dir != "" {
		if strings.IndexByte(p.Dir, 0) >= 0 {
			return Sizes{}, ErrNUL
		}

		s.DirLen = uint32(len(p.Dir) + 1)
	}

	if s.NPath, s.PathBytes, err = measure(p.Path); err != nil {
		return Sizes{}, err
	}

	if err := s.validate(); err != nil {
		return Sizes{}, err
	}

	return s, nil
}

func measure(ss []string) (nelems, nbytes uint32, err error) {
	total := 0
	for _, s := range ss {
		if strings.IndexByte(s, 0) >= 0 {
			return 0, 0, ErrNUL
		}

		total += len(s) + 1
		if total > MaxSectionBytes {
			return 0, 0, ErrTooLarge
		}
	}

	return uint32(len(ss) + 1), uint32(total), nil
}

// Size returns the exact encoded length of p.
func Size(p *Payload) (int, error) {
	s, err := SizesOf(p)
	if err != nil {
		return 0, err
	}

	return PreambleLen + s.BodyLen(), nil
}

// Encode serializes p into a single buffer allocated at its final size.
func Encode(p *Payload) ([]byte, error) {
	s, err := SizesOf(p)
	if err != nil {
		return nil, err
	}

	w := &writer{buf: make([]byte, PreambleLen+s.BodyLen())}

	w.u32(Word())
	encodeHeader(w, p.Header)
	encodeSizes(w, s)
	w.cstring(p.Program)
	w.cstrings(p.Argv)
	w.cstrings(p.Env)

	if s.DirLen > 0 {
		w.cstring(p.Dir)
	}

	w.cstrings(p.Path)

	if w.off != len(w.buf) {
		return nil, fmt.Errorf("handoff: encoded %d bytes, sized %d", w.off, len(w.buf))
	}

	return w.buf, nil
}

// WriteTo encodes p and writes it to w in full.
func WriteTo(w io.Writer, p *Payload) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}

	_, err = w.Write(buf)

	return err
}

// Decode parses a complete encoded stream held in memory.
func Decode(b []byte) (*Payload, error) {
	c := &cursor{buf: b}

	word, err := c.u32()
	if err != nil {
		return nil, err
	}

	if err := CheckWord(word); err != nil {
		return nil, err
	}

	h, s, err := decodeRecords(c)
	if err != nil {
		return nil, err
	}

	if c.remaining() != s.BodyLen() {
		return nil, fmt.Errorf("%w: body is %d bytes, sizes say %d", ErrMalformed, c.remaining(), s.BodyLen())
	}

	return decodeBody(c, h, s)
}

// ReadFrom reads exactly one encoded payload from r. It never reads past
// the advertised body length.
func ReadFrom(r io.Reader) (*Payload, error) {
	pre := make([]byte, PreambleLen)
	if err := readFull(r, pre[:WordLen]); err != nil {
		return nil, err
	}

	if err := CheckWord(order.Uint32(pre[:WordLen])); err != nil {
		return nil, err
	}

	if err := readFull(r, pre[WordLen:]); err != nil {
		return nil, err
	}

	c := &cursor{buf: pre, off: WordLen}

	h, s, err := decodeRecords(c)
	if err != nil {
		return nil, err
	}

	body := make([]byte, s.BodyLen())
	if err := readFull(r, body); err != nil {
		return nil, err
	}

	return decodeBody(&cursor{buf: body}, h, s)
}

func readFull(r io.Reader, b []byte) error {
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}

		return err
	}

	return nil
}

func encodeHeader(w *writer, h Header) {
	for _, fd := range h.StdFds {
		w.i32(fd)
	}

	w.i32(h.HandoffFd)
	w.i32(h.FailFd)
	w.u32(h.Mode)
	w.u32(h.Flags)
}

func encodeSizes(w *writer, s Sizes) {
	w.u32(s.ProgLen)
	w.u32(s.NArgv)
	w.u32(s.ArgvBytes)
	w.u32(s.NEnv)
	w.u32(s.EnvBytes)
	w.u32(s.DirLen)
	w.u32(s.NPath)
	w.u32(s.PathBytes)
}

func decodeRecords(c *cursor) (Header, Sizes, error) {
	var (
		h   Header
		s   Sizes
		err error
	)

	fields := []*int32{&h.StdFds[0], &h.StdFds[1], &h.StdFds[2], &h.HandoffFd, &h.FailFd}
	for _, f := range fields {
		if *f, err = c.i32(); err != nil {
			return h, s, err
		}
	}

	for _, f := range []*uint32{&h.Mode, &h.Flags, &s.ProgLen, &s.NArgv, &s.ArgvBytes, &s.NEnv, &s.EnvBytes, &s.DirLen, &s.NPath, &s.PathBytes} {
		if *f, err = c.u32(); err != nil {
			return h, s, err
		}
	}

	if err := s.validate(); err != nil {
		return h, s, err
	}

	return h, s, nil
}

func decodeBody(c *cursor, h Header, s Sizes) (*Payload, error) {
	p := &Payload{Header: h}

	var err error
	if p.Program, err = c.cstring(s.ProgLen); err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	if p.Argv, err = c.cstrings(s.NArgv, s.ArgvBytes); err != nil {
		return nil, fmt.Errorf("argv: %w", err)
	}

	if p.Env, err = c.cstrings(s.NEnv, s.EnvBytes); err != nil {
		return nil, fmt.Errorf("env: %w", err)
	}

	if s.DirLen > 0 {
		if p.Dir, err = c.cstring(s.DirLen); err != nil {
			return nil, fmt.Errorf("dir: %w", err)
		}
	}

	if p.Path, err = c.cstrings(s.NPath, s.PathBytes); err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}

	return p, nil
}
