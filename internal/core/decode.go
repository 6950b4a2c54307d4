package core

// decode.go prepares raw upload bytes for the CSV reader without loading
// whole files up front:
//
//   - stripBOM removes the UTF-8 byte order mark Windows exports carry
//   - utf8Cleaner replaces invalid UTF-8 bytes with '?' on the fly
//   - countingReader tracks bytes consumed for size enforcement
//
// PrepareReader composes them in the required order.

import (
	"bufio"
	"io"
	"unicode/utf8"
)

// stripBOM returns a reader positioned past a leading UTF-8 BOM, if one is
// present.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, err := br.Peek(3)
	if err == nil && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
		br.Discard(3)
	}
	return br
}

// utf8Cleaner wraps a reader and replaces invalid UTF-8 bytes with '?'.
// Replacement never grows the data, so cleaning happens in the caller's
// buffer. A multi-byte sequence split across reads is held back until the
// next call completes it.
type utf8Cleaner struct {
	r       io.Reader
	pending []byte
}

func newUTF8Cleaner(r io.Reader) *utf8Cleaner {
	return &utf8Cleaner{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (c *utf8Cleaner) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	off := 0
	if len(c.pending) > 0 {
		off = copy(p, c.pending)
		c.pending = c.pending[:0]
	}

	n, err := c.r.Read(p[off:])
	n += off
	if n == 0 {
		return 0, err
	}

	// Most export data is ASCII; skip the rune walk when possible.
	ascii := true
	for _, b := range p[:n] {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return n, err
	}

	return c.clean(p[:n], err == io.EOF), err
}

// clean rewrites data in place, replacing invalid bytes. When not at EOF, a
// trailing partial sequence is saved for the next read instead of being
// judged invalid early. Returns the number of bytes ready for the caller.
func (c *utf8Cleaner) clean(data []byte, atEOF bool) int {
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])
		if r == utf8.RuneError && size == 1 {
			rest := data[read:]
			if !atEOF && seqLen(rest[0]) > len(rest) {
				c.pending = append(c.pending, rest...)
				return write
			}
			data[write] = '?'
			write++
			read++
			continue
		}
		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

// seqLen returns the byte length the UTF-8 sequence starting with b claims,
// or 1 for bytes that cannot start a sequence.
func seqLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 1
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// countingReader tracks how many bytes have been consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// PrepareReader wraps an upload stream for parsing: raw consumption is
// counted first, then the BOM is stripped and invalid UTF-8 cleaned. The
// returned count function reports raw bytes consumed so far, so size
// enforcement sees the file as uploaded, not as cleaned.
func PrepareReader(r io.Reader) (io.Reader, func() int64) {
	cr := &countingReader{r: r}
	return newUTF8Cleaner(stripBOM(cr)), func() int64 { return cr.n }
}
