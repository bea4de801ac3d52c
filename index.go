package shapefile

import (
	"fmt"
	"io"
)

// IndexEntry locates one record in the .shp file. Both values are in
// 16-bit words; Offset points at the record header.
type IndexEntry struct {
	Offset int32
	Length int32
}

const indexEntrySize = 8

// recordCount derives the number of records from an .shx header.
func (h *Header) recordCount() int {
	return (int(h.FileLength)*2 - headerLength) / indexEntrySize
}

// ReadIndex reads a whole .shx stream.
func ReadIndex(r io.Reader) (*Header, []IndexEntry, error) {
	h, err := readHeaderFrom(r)
	if err != nil {
		return nil, nil, err
	}
	n := h.recordCount()
	if n < 0 {
		return nil, nil, fmt.Errorf("%w: index length %d", ErrBadFormat, h.FileLength)
	}
	c := newReadCursor(r, indexEntrySize*1024)
	entries := make([]IndexEntry, 0, n)
	for i := 0; i < n; i++ {
		b, err := c.next(indexEntrySize)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, IndexEntry{
			Offset: int32(be.Uint32(b)),
			Length: int32(be.Uint32(b[4:])),
		})
	}
	return h, entries, nil
}

func (e IndexEntry) appendTo(b []byte) []byte {
	b = be.AppendUint32(b, uint32(e.Offset))
	return be.AppendUint32(b, uint32(e.Length))
}
