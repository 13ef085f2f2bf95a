// Package message reads delimiter-terminated messages from a raw byte stream.
package message

import (
	"bufio"
	"errors"
	"io"
)

// DefaultDelimiter terminates every message.
const DefaultDelimiter = '|'

// DefaultMaxSize bounds a single message, delimiter included.
const DefaultMaxSize = 64 * 1024

// ErrTooLong is returned when no delimiter is found within the size limit.
var ErrTooLong = errors.New("message: too long")

// Reader splits a stream into messages. Bytes after the last delimiter are
// buffered until the next call; a trailing partial message at end of stream
// is dropped.
type Reader struct {
	br    *bufio.Reader
	delim byte
}

// NewReader wraps r. A non-positive max uses DefaultMaxSize.
func NewReader(r io.Reader, delim byte, max int) *Reader {
	if max <= 0 {
		max = DefaultMaxSize
	}
	return &Reader{br: bufio.NewReaderSize(r, max), delim: delim}
}

// ReadMessage returns the next message without its delimiter.
func (r *Reader) ReadMessage() (string, error) {
	b, err := r.br.ReadSlice(r.delim)
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrTooLong
	case err != nil:
		return "", err
	}
	return string(b[:len(b)-1]), nil
}
