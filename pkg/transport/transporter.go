package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single frame body.
const MaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned for frames longer than MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// Transporter moves length-prefixed frames over a stream. Each frame is a
// 4-byte big-endian length followed by the body.
type Transporter struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
	wmu  sync.Mutex
	w    *bufio.Writer
}

// NewTransporter wraps conn. The transporter owns conn from now on.
func NewTransporter(conn io.ReadWriteCloser) *Transporter {
	return &Transporter{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Send writes one frame and flushes it.
func (t *Transporter) Send(body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := t.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := t.w.Write(body); err != nil {
		return err
	}
	return t.w.Flush()
}

// Receive reads one frame. It returns io.EOF when the peer closed the
// stream between frames and io.ErrUnexpectedEOF when it closed mid-frame.
func (t *Transporter) Receive() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(t.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(t.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// Close closes the underlying stream.
func (t *Transporter) Close() error {
	return t.conn.Close()
}
