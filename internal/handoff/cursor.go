package handoff

import (
	"bytes"
	"fmt"
)

// writer fills a buffer that was sized up front. Callers guarantee the
// buffer is large enough, so writes never grow it.
type writer struct {
	buf []byte
	off int
}

func (w *writer) u32(v uint32) {
	order.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) i32(v int32) {
	w.u32(uint32(v))
}

func (w *writer) cstring(s string) {
	w.off += copy(w.buf[w.off:], s)
	w.buf[w.off] = 0
	w.off++
}

func (w *writer) cstrings(ss []string) {
	for _, s := range ss {
		w.cstring(s)
	}
}

// cursor is a bounds-checked reader over an in-memory buffer.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, ErrTruncated
	}

	b := c.buf[c.off : c.off+n]
	c.off += n

	return b, nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}

	return order.Uint32(b), nil
}

func (c *cursor) i32() (int32, error) {
	v, err := c.u32()
	return int32(v), err
}

// cstring reads one NUL-terminated string occupying exactly n bytes.
func (c *cursor) cstring(n uint32) (string, error) {
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}

	if n == 0 || b[n-1] != 0 || bytes.IndexByte(b[:n-1], 0) >= 0 {
		return "", fmt.Errorf("%w: string of %d bytes is not NUL-terminated", ErrMalformed, n)
	}

	return string(b[:n-1]), nil
}

// cstrings reads nelems-1 NUL-terminated strings occupying exactly nbytes.
// nelems counts the sentinel; zero means the sequence is absent.
func (c *cursor) cstrings(nelems, nbytes uint32) ([]string, error) {
	if nelems == 0 {
		if nbytes != 0 {
			return nil, ErrMalformed
		}

		return nil, nil
	}

	b, err := c.take(int(nbytes))
	if err != nil {
		return nil, err
	}

	want := int(nelems) - 1
	if want > len(b) {
		return nil, fmt.Errorf("%w: %d strings cannot fit in %d bytes", ErrMalformed, want, len(b))
	}

	out := make([]string, 0, want)
	for len(out) < want {
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			return nil, fmt.Errorf("%w: missing terminator after %d of %d strings", ErrMalformed, len(out), want)
		}

		out = append(out, string(b[:i]))
		b = b[i+1:]
	}

	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b))
	}

	return out, nil
}
