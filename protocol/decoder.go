package protocol

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"unicode/utf8"
)

const readChunkSize = 4096

// MaxLineLength bounds a single line: a full-size file frame plus room for
// its header.
var MaxLineLength = base64.StdEncoding.EncodedLen(MaxFileSize) + 4096

// Decoder splits a byte stream into newline-delimited lines. Partial lines
// are buffered across reads; a multi-byte rune cut by a chunk boundary is
// carried over to the next chunk.
type Decoder struct {
	r       io.Reader
	buf     []byte
	residue bytes.Buffer
	carry   []byte
	pending []string
	err     error

	// skipping is set while the rest of an overlong line is thrown away.
	skipping bool

	// MaxLine caps the bytes of one line. Longer lines are dropped up to
	// the next delimiter.
	MaxLine int

	// OnDiscard is called with ErrInvalidEncoding when a chunk is dropped
	// and with ErrLineTooLong when an overlong line is dropped. n is the
	// number of bytes thrown away at that point.
	OnDiscard func(err error, n int)
}

// NewDecoder returns a Decoder reading from r. r may be nil when the
// decoder is driven only through Feed.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, MaxLine: MaxLineLength}
}

func (d *Decoder) discard(err error, n int) {
	if d.OnDiscard != nil {
		d.OnDiscard(err, n)
	}
}

// Feed consumes one chunk and returns the lines it completed, stripped of
// the delimiter and any trailing carriage returns. A chunk containing
// invalid UTF-8 is discarded entirely; bytes buffered from earlier chunks
// are kept.
func (d *Decoder) Feed(chunk []byte) []string {
	data := chunk
	if len(d.carry) > 0 {
		data = append(append([]byte(nil), d.carry...), chunk...)
		d.carry = nil
	}

	cut := len(data) - incompleteTail(data)
	if !utf8.Valid(data[:cut]) {
		d.discard(ErrInvalidEncoding, len(chunk))
		return nil
	}
	if cut < len(data) {
		d.carry = append([]byte(nil), data[cut:]...)
	}

	var lines []string
	body := data[:cut]
	for {
		i := bytes.IndexByte(body, '\n')
		if i < 0 {
			d.buffer(body)
			break
		}
		d.buffer(body[:i])
		if d.skipping {
			d.skipping = false
		} else {
			lines = append(lines, strings.TrimRight(d.residue.String(), "\r"))
		}
		d.residue.Reset()
		body = body[i+1:]
	}
	return lines
}

// buffer appends part of an unterminated line, switching to skipping once
// the line exceeds MaxLine.
func (d *Decoder) buffer(p []byte) {
	if d.skipping {
		return
	}
	if d.MaxLine > 0 && d.residue.Len()+len(p) > d.MaxLine {
		d.discard(ErrLineTooLong, d.residue.Len()+len(p))
		d.residue.Reset()
		d.skipping = true
		return
	}
	d.residue.Write(p)
}

// Next returns the next complete line, reading more chunks from the
// underlying reader as needed. At end of stream any unterminated residue is
// dropped and the read error (io.EOF on a clean close) is returned; every
// later call returns the same error.
func (d *Decoder) Next() (string, error) {
	for len(d.pending) == 0 {
		if d.err != nil {
			return "", d.err
		}
		if d.r == nil {
			d.err = io.EOF
			return "", d.err
		}
		if d.buf == nil {
			d.buf = make([]byte, readChunkSize)
		}
		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.pending = append(d.pending, d.Feed(d.buf[:n])...)
		}
		if err != nil {
			d.err = err
			d.residue.Reset()
			d.carry = nil
			d.skipping = false
		}
	}
	line := d.pending[0]
	d.pending = d.pending[1:]
	return line, nil
}

// Buffered reports how many bytes of an unterminated line are held.
func (d *Decoder) Buffered() int {
	return d.residue.Len() + len(d.carry)
}

// incompleteTail returns the length of a rune prefix at the end of p that
// needs more bytes to complete.
func incompleteTail(p []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(p); i++ {
		if utf8.RuneStart(p[len(p)-i]) {
			if utf8.FullRune(p[len(p)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}
