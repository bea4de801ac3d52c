package shapefile

import (
	"fmt"
	"io"

	"github.com/paulmach/orb"
)

const (
	headerLength = 100
	fileCode     = 9994
	fileVersion  = 1000
)

// Header is the 100-byte preamble shared by .shp and .shx files.
type Header struct {
	FileLength int32 // Total file length in 16-bit words, header included
	Version    int32
	ShapeType  ShapeType
	Bound      orb.Bound
	ZMin, ZMax float64
	MMin, MMax float64
}

// newHeader returns an empty header for a file about to be streamed.
func newHeader(t ShapeType) *Header {
	return &Header{
		FileLength: headerLength / 2,
		Version:    fileVersion,
		ShapeType:  t,
	}
}

// ReadHeader decodes a .shp or .shx header from exactly 100 bytes.
func ReadHeader(b []byte) (*Header, error) {
	if len(b) < headerLength {
		return nil, ErrTruncated
	}
	c := &sliceCursor{b: b[:headerLength]}
	if code := c.int32(be); code != fileCode {
		return nil, fmt.Errorf("%w: file code %d", ErrBadFormat, code)
	}
	c.take(20)
	h := &Header{FileLength: c.int32(be)}
	h.Version = c.int32(le)
	if h.Version != fileVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadFormat, h.Version)
	}
	h.ShapeType = ShapeType(c.int32(le))
	if !h.ShapeType.Valid() {
		return nil, fmt.Errorf("%w: shape type %d", ErrBadFormat, h.ShapeType)
	}
	if h.FileLength < headerLength/2 {
		return nil, fmt.Errorf("%w: file length %d", ErrBadFormat, h.FileLength)
	}
	h.Bound.Min[0] = c.float64()
	h.Bound.Min[1] = c.float64()
	h.Bound.Max[0] = c.float64()
	h.Bound.Max[1] = c.float64()
	h.ZMin, h.ZMax = c.float64(), c.float64()
	h.MMin, h.MMax = c.float64(), c.float64()
	return h, c.err
}

// readHeaderFrom reads the preamble from the start of a stream.
func readHeaderFrom(r io.Reader) (*Header, error) {
	var b [headerLength]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, err
	}
	return ReadHeader(b[:])
}

// MarshalBinary encodes the header into its 100-byte form.
func (h *Header) MarshalBinary() ([]byte, error) {
	w := &sliceWriter{b: make([]byte, 0, headerLength)}
	w.int32(be, fileCode)
	for i := 0; i < 5; i++ {
		w.int32(be, 0)
	}
	w.int32(be, h.FileLength)
	w.int32(le, h.Version)
	w.int32(le, int32(h.ShapeType))
	w.float64(h.Bound.Min[0])
	w.float64(h.Bound.Min[1])
	w.float64(h.Bound.Max[0])
	w.float64(h.Bound.Max[1])
	w.float64(h.ZMin)
	w.float64(h.ZMax)
	w.float64(h.MMin)
	w.float64(h.MMax)
	return w.bytes(), nil
}

// writeHeaderAt writes the header at offset 0. It is called once with a
// placeholder before records are streamed and again to patch in the final
// length and bounds.
func writeHeaderAt(w io.WriterAt, h *Header) error {
	b, _ := h.MarshalBinary()
	_, err := w.WriteAt(b, 0)
	return err
}

// extent accumulates the bounds of a geometry stream.
type extent struct {
	bound      orb.Bound
	zMin, zMax float64
	mMin, mMax float64
	hasXY      bool
	hasZ, hasM bool
}

func (e *extent) addBound(b orb.Bound) {
	if !e.hasXY {
		e.bound, e.hasXY = b, true
		return
	}
	e.bound = e.bound.Union(b)
}

func (e *extent) addZ(zs []float64) {
	for _, z := range zs {
		if !e.hasZ {
			e.zMin, e.zMax, e.hasZ = z, z, true
			continue
		}
		e.zMin, e.zMax = min(e.zMin, z), max(e.zMax, z)
	}
}

func (e *extent) addM(ms []float64) {
	for _, m := range ms {
		if isNoData(m) {
			continue
		}
		if !e.hasM {
			e.mMin, e.mMax, e.hasM = m, m, true
			continue
		}
		e.mMin, e.mMax = min(e.mMin, m), max(e.mMax, m)
	}
}

// apply copies the accumulated extent into h.
func (e *extent) apply(h *Header) {
	h.Bound = e.bound
	h.ZMin, h.ZMax = e.zMin, e.zMax
	h.MMin, h.MMax = e.mMin, e.mMax
}
