package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Raw-stream framing: each envelope is preceded by a 4-byte little-endian
// length prefix, followed by that many bytes of UTF-8 JSON.

// MaxFrameSize bounds a single frame; anything larger is treated as a
// corrupt stream rather than an allocation request.
const MaxFrameSize = 1 << 20

const lengthPrefixSize = 4

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrEmptyFrame    = errors.New("frame has zero length")
)

// ReadFrame blocks until one complete frame is available. The transport may
// deliver partial frames across reads; io.ReadFull loops until the prefix
// and then the full payload have arrived.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes the length prefix and payload as a single Write so a
// frame is never split by a concurrent writer on the same connection.
// Callers still serialize concurrent writes with a per-connection lock.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
