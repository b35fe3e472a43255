// Package backend serves the engine over TCP. Each message is a JSON document
// followed by the "$$$" terminator.
package backend

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Terminator ends every request and reply.
const Terminator = "$$$"

// MaxMessageSize bounds a single request.
const MaxMessageSize = 16 << 20

// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

var terminator = []byte(Terminator)

// ReadMessage reads up to and including the terminator and returns the payload without it.
// It returns io.EOF when the stream ends cleanly before a new message starts.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice(terminator[len(terminator)-1])
		buf = append(buf, chunk...)
		if len(buf) > MaxMessageSize {
			return nil, ErrMessageTooLarge
		}
		if err == nil && bytes.HasSuffix(buf, terminator) {
			return buf[:len(buf)-len(terminator)], nil
		}
		if errors.Is(err, bufio.ErrBufferFull) || err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf)) == 0 {
			return nil, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("connection closed before terminator: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("reading message: %w", err)
	}
}

// WriteMessage writes payload followed by the terminator.
func WriteMessage(w io.Writer, payload []byte) error {
	msg := make([]byte, 0, len(payload)+len(terminator))
	msg = append(msg, payload...)
	msg = append(msg, terminator...)
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
