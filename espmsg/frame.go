package espmsg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	// HeaderSize is the length of the big-endian frame length prefix.
	HeaderSize = 4
	// MaxFrameSize is the largest payload a session accepts.
	MaxFrameSize = 2048
	// MaxWriteAttempts bounds the retries of a partial or timed out write.
	MaxWriteAttempts = 8
)

// An Accumulator reassembles frames from a byte stream delivered in arbitrary pieces.
// Its zero value is ready to use.
type Accumulator struct {
	header      [HeaderSize]byte
	headerRead  int
	frameLength int
	received    int
	buffer      [MaxFrameSize]byte
}

// Want returns how many bytes may be fed before the current header or payload is complete.
// It never exceeds the remaining part of the frame so bytes of the next frame stay in the socket.
func (a *Accumulator) Want() int {
	if a.headerRead < HeaderSize {
		return HeaderSize - a.headerRead
	}
	return a.frameLength - a.received
}

// Pending reports whether a frame has been started but not completed.
func (a *Accumulator) Pending() bool {
	return a.headerRead > 0
}

// Reset drops any partial frame.
func (a *Accumulator) Reset() {
	a.headerRead = 0
	a.frameLength = 0
	a.received = 0
}

// Feed consumes at most Want() bytes of p and returns the number of bytes consumed.
// When the consumed bytes complete a frame its payload is returned, the payload is a copy owned by
// the caller. Zero length frames complete without a payload.
func (a *Accumulator) Feed(p []byte) (n int, payload []byte, err error) {
	if a.headerRead < HeaderSize {
		n = copy(a.header[a.headerRead:], p)
		a.headerRead += n
		if a.headerRead < HeaderSize {
			return n, nil, nil
		}

		length := binary.BigEndian.Uint32(a.header[:])
		if length > MaxFrameSize {
			a.Reset()
			return n, nil, fmt.Errorf("%w: %w: %d bytes", ErrProtocolViolation, ErrFrameTooLarge, length)
		}
		a.frameLength = int(length)
		a.received = 0

		if a.frameLength == 0 {
			a.Reset()
			return n, nil, nil
		}
		p = p[n:]
	}

	m := copy(a.buffer[a.received:a.frameLength], p)
	a.received += m
	n += m

	if a.received < a.frameLength {
		return n, nil, nil
	}

	payload = make([]byte, a.frameLength)
	copy(payload, a.buffer[:a.frameLength])
	a.Reset()
	return n, payload, nil
}

// WriteFrame writes the length prefix and the payload. Short writes and timeouts are retried at
// most MaxWriteAttempts times before giving up.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	var attempts int
	for len(frame) > 0 {
		n, err := w.Write(frame)
		frame = frame[n:]
		if err == nil {
			if n == 0 {
				attempts++
			}
		} else {
			var nerr net.Error
			if !errors.As(err, &nerr) || !nerr.Timeout() {
				return err
			}
			attempts++
		}

		if len(frame) > 0 && attempts >= MaxWriteAttempts {
			return fmt.Errorf("write frame: %d bytes left after %d attempts: %w", len(frame), attempts, io.ErrShortWrite)
		}
	}
	return nil
}

// ReadFrame reads one whole frame from r. A zero length frame returns an empty payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %w: %d bytes", ErrProtocolViolation, ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteRequest encodes and frames a request.
func WriteRequest(w io.Writer, r *Request) error {
	payload, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// WriteResult encodes and frames a result.
func WriteResult(w io.Writer, r *Result) error {
	payload, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadResult reads and decodes one result frame.
func ReadResult(r io.Reader) (*Result, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return UnmarshalResult(payload)
}
