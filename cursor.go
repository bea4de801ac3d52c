package shapefile

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var (
	le = binary.LittleEndian
	be = binary.BigEndian
)

// readCursor reads fixed-width values sequentially from a stream through a
// fixed-capacity buffer. The buffer only grows when a single request is
// larger than its capacity.
type readCursor struct {
	r      io.Reader
	buf    []byte
	pos    int   // next unread byte in buf
	lim    int   // end of valid data in buf
	offset int64 // stream offset of buf[0]
	eof    bool
}

func newReadCursor(r io.Reader, size int) *readCursor {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &readCursor{r: r, buf: make([]byte, size)}
}

// position returns the absolute stream offset of the next unread byte.
func (c *readCursor) position() int64 {
	return c.offset + int64(c.pos)
}

// fill makes at least n bytes available. It returns io.EOF when the stream
// ended exactly at the current position and ErrTruncated when it ended
// part way through the request.
func (c *readCursor) fill(n int) error {
	if c.lim-c.pos >= n {
		return nil
	}
	if n > len(c.buf) {
		grown := make([]byte, n)
		copy(grown, c.buf[c.pos:c.lim])
		c.buf = grown
	} else {
		copy(c.buf, c.buf[c.pos:c.lim])
	}
	c.offset += int64(c.pos)
	c.lim -= c.pos
	c.pos = 0
	for c.lim < n && !c.eof {
		m, err := c.r.Read(c.buf[c.lim:])
		c.lim += m
		if errors.Is(err, io.EOF) {
			c.eof = true
			break
		}
		if err != nil {
			return err
		}
	}
	if c.lim >= n {
		return nil
	}
	if c.lim == 0 {
		return io.EOF
	}
	return ErrTruncated
}

// next returns the following n bytes. The slice is only valid until the
// next call on c.
func (c *readCursor) next(n int) ([]byte, error) {
	if err := c.fill(n); err != nil {
		if errors.Is(err, io.EOF) && n > 0 {
			return nil, ErrTruncated
		}
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *readCursor) skip(n int) error {
	_, err := c.next(n)
	return err
}

func (c *readCursor) int32(order binary.ByteOrder) (int32, error) {
	b, err := c.next(4)
	if err != nil {
		return 0, err
	}
	return int32(order.Uint32(b)), nil
}

// more reports whether at least one unread byte remains.
func (c *readCursor) more() (bool, error) {
	err := c.fill(1)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	return err == nil, err
}

// sliceCursor decodes values from an in-memory record. The first short read
// is remembered and every later read is a no-op, so callers check err once.
type sliceCursor struct {
	b   []byte
	off int
	err error
}

func (c *sliceCursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.b) {
		c.err = ErrTruncated
		return nil
	}
	b := c.b[c.off : c.off+n]
	c.off += n
	return b
}

func (c *sliceCursor) int32(order binary.ByteOrder) int32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return int32(order.Uint32(b))
}

func (c *sliceCursor) float64() float64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(le.Uint64(b))
}

// count reads a little-endian element count and checks that count items of
// size bytes each can still fit in the record.
func (c *sliceCursor) count(size int) int {
	n := int(c.int32(le))
	if c.err == nil && (n < 0 || n*size > len(c.b)-c.off) {
		c.err = ErrTruncated
	}
	if c.err != nil {
		return 0
	}
	return n
}

func (c *sliceCursor) int32s(n int) []int32 {
	b := c.take(n * 4)
	if b == nil {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(le.Uint32(b[i*4:]))
	}
	return out
}

func (c *sliceCursor) float64s(n int) []float64 {
	b := c.take(n * 8)
	if b == nil {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(le.Uint64(b[i*8:]))
	}
	return out
}

func (c *sliceCursor) remaining() int {
	return len(c.b) - c.off
}

// sliceWriter is the encoding counterpart of sliceCursor.
type sliceWriter struct {
	b []byte
}

func (w *sliceWriter) int32(order binary.AppendByteOrder, v int32) {
	w.b = order.AppendUint32(w.b, uint32(v))
}

func (w *sliceWriter) float64(v float64) {
	w.b = le.AppendUint64(w.b, math.Float64bits(v))
}

func (w *sliceWriter) float64s(vs []float64) {
	for _, v := range vs {
		w.float64(v)
	}
}

func (w *sliceWriter) bytes() []byte {
	return w.b
}
