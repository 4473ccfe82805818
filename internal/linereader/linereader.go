// Package linereader yields a text stream one line at a time with line
// terminators (LF or CRLF) and a leading UTF-8 byte order mark removed.
package linereader

import (
	"bufio"
	"bytes"
	"io"
)

// MaxLineSize caps a single line. Longer lines stop the reader with
// bufio.ErrTooLong.
const MaxLineSize = 64 * 1024

var bom = []byte{0xEF, 0xBB, 0xBF}

type Reader struct {
	scanner *bufio.Scanner
	first   bool
}

func New(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxLineSize)
	return &Reader{scanner: s, first: true}
}

// Next returns the next line and true, or "" and false once the stream is
// exhausted or failed. Check Err afterwards.
func (r *Reader) Next() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	line := r.scanner.Bytes()
	if r.first {
		r.first = false
		line = bytes.TrimPrefix(line, bom)
	}
	return string(line), true
}

// Err returns the first non-EOF error hit while reading.
func (r *Reader) Err() error {
	return r.scanner.Err()
}
