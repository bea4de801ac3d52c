package shapefile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// dBase III layout, see http://www.clicketyclick.dk/databases/xbase/format/dbf.html

const (
	dbaseVersion     = 0x03
	dbaseFixedHeader = 32
	dbaseFieldSize   = 32
	dbaseTerminator  = 0x0D
	dbaseEOF         = 0x1A
	dbaseDeleted     = '*'
	dbaseNameLength  = 10
	maxStringLength  = 254
	maxIntegerLength = 16
	maxFloatLength   = 33
)

// Column describes one dbf field.
type Column struct {
	Name     string
	Type     byte // 'C', 'N', 'F', 'L' or 'D'
	Length   uint8
	Decimals uint8
}

// DbaseHeader is the decoded .dbf preamble and field descriptor table.
type DbaseHeader struct {
	Version        byte
	LastUpdate     time.Time
	NumRecords     uint32
	HeaderLength   uint16
	RecordLength   uint16
	LanguageDriver byte
	Columns        []Column
}

// newDbaseHeader lays out a header for columns.
func newDbaseHeader(columns []Column) *DbaseHeader {
	h := &DbaseHeader{
		Version:      dbaseVersion,
		LastUpdate:   time.Now(),
		HeaderLength: uint16(dbaseFixedHeader + dbaseFieldSize*len(columns) + 1),
		RecordLength: 1,
		Columns:      columns,
	}
	for _, c := range columns {
		h.RecordLength += uint16(c.Length)
	}
	return h
}

// ReadDbaseHeader decodes the header and field descriptors, leaving r
// positioned at the first record.
func ReadDbaseHeader(r io.Reader) (*DbaseHeader, error) {
	var fixed [dbaseFixedHeader]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, truncated(err)
	}
	h := &DbaseHeader{
		Version:        fixed[0],
		LastUpdate:     time.Date(1900+int(fixed[1]), time.Month(max(fixed[2], 1)), int(max(fixed[3], 1)), 0, 0, 0, 0, time.UTC),
		NumRecords:     le.Uint32(fixed[4:8]),
		HeaderLength:   le.Uint16(fixed[8:10]),
		RecordLength:   le.Uint16(fixed[10:12]),
		LanguageDriver: fixed[29],
	}
	if h.HeaderLength < dbaseFixedHeader+1 {
		return nil, fmt.Errorf("%w: dbf header length %d", ErrBadFormat, h.HeaderLength)
	}

	consumed := dbaseFixedHeader
	maxFields := (int(h.HeaderLength) - dbaseFixedHeader) / dbaseFieldSize
	var field [dbaseFieldSize]byte
	for {
		if _, err := io.ReadFull(r, field[:1]); err != nil {
			return nil, truncated(err)
		}
		consumed++
		if field[0] == dbaseTerminator {
			break
		}
		if len(h.Columns) == maxFields {
			return nil, fmt.Errorf("%w: missing field descriptor terminator", ErrBadFormat)
		}
		if _, err := io.ReadFull(r, field[1:]); err != nil {
			return nil, truncated(err)
		}
		consumed += dbaseFieldSize - 1
		name := field[:11]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		h.Columns = append(h.Columns, Column{
			Name:     strings.TrimSpace(string(name)),
			Type:     field[11],
			Length:   field[16],
			Decimals: field[17],
		})
	}
	if consumed > int(h.HeaderLength) {
		return nil, fmt.Errorf("%w: field descriptors overrun header", ErrBadFormat)
	}
	if _, err := io.CopyN(io.Discard, r, int64(int(h.HeaderLength)-consumed)); err != nil {
		return nil, truncated(err)
	}

	width := 1
	for _, c := range h.Columns {
		width += int(c.Length)
	}
	if width > int(h.RecordLength) {
		return nil, fmt.Errorf("%w: columns need %d bytes, records hold %d", ErrBadFormat, width, h.RecordLength)
	}
	return h, nil
}

// MarshalBinary encodes the header, descriptors and terminator.
func (h *DbaseHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, dbaseFixedHeader, int(h.HeaderLength))
	b[0] = h.Version
	t := h.LastUpdate
	if t.IsZero() {
		t = time.Now()
	}
	b[1], b[2], b[3] = byte(t.Year()-1900), byte(t.Month()), byte(t.Day())
	le.PutUint32(b[4:8], h.NumRecords)
	le.PutUint16(b[8:10], h.HeaderLength)
	le.PutUint16(b[10:12], h.RecordLength)
	b[29] = h.LanguageDriver
	for _, c := range h.Columns {
		var field [dbaseFieldSize]byte
		copy(field[:dbaseNameLength], c.Name)
		field[11] = c.Type
		field[16] = c.Length
		field[17] = c.Decimals
		b = append(b, field[:]...)
	}
	return append(b, dbaseTerminator), nil
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}

// charsetFor returns the text encoding for a dbf language driver id.
func charsetFor(ldid byte) encoding.Encoding {
	switch ldid {
	case 0x01:
		return charmap.CodePage437
	case 0x02:
		return charmap.CodePage850
	case 0x03, 0x57:
		return charmap.Windows1252
	case 0x64:
		return charmap.CodePage852
	case 0x65:
		return charmap.CodePage866
	}
	return charmap.ISO8859_1
}

// driverFor is the inverse of charsetFor. Encodings without a language
// driver id get 0, which readers take as ISO 8859-1.
func driverFor(charset encoding.Encoding) byte {
	switch charset {
	case charmap.CodePage437:
		return 0x01
	case charmap.CodePage850:
		return 0x02
	case charmap.Windows1252:
		return 0x57
	case charmap.CodePage852:
		return 0x64
	case charmap.CodePage866:
		return 0x65
	}
	return 0
}

// dbaseReader iterates fixed-width records.
type dbaseReader struct {
	h       *DbaseHeader
	c       *readCursor
	dec     *encoding.Decoder
	offsets []int
	read    uint32
}

func newDbaseReader(r io.Reader, bufSize int, charset encoding.Encoding) (*dbaseReader, error) {
	h, err := ReadDbaseHeader(r)
	if err != nil {
		return nil, err
	}
	if charset == nil {
		charset = charsetFor(h.LanguageDriver)
	}
	d := &dbaseReader{
		h:   h,
		c:   newReadCursor(r, bufSize),
		dec: charset.NewDecoder(),
	}
	off := 1
	for _, col := range h.Columns {
		d.offsets = append(d.offsets, off)
		off += int(col.Length)
	}
	return d, nil
}

func (d *dbaseReader) hasNext() bool {
	return d.read < d.h.NumRecords
}

// next decodes the columns listed in selected; a -1 entry yields nil.
func (d *dbaseReader) next(selected []int) ([]interface{}, bool, error) {
	if !d.hasNext() {
		return nil, false, io.EOF
	}
	rec, err := d.c.next(int(d.h.RecordLength))
	if err != nil {
		return nil, false, err
	}
	d.read++
	deleted := rec[0] == dbaseDeleted
	row := make([]interface{}, len(selected))
	for i, idx := range selected {
		if idx < 0 {
			continue
		}
		col := d.h.Columns[idx]
		off := d.offsets[idx]
		v, err := decodeValue(col, rec[off:off+int(col.Length)], d.dec)
		if err != nil {
			return nil, deleted, fmt.Errorf("dbf record %d column %s: %w", d.read, col.Name, err)
		}
		row[i] = v
	}
	return row, deleted, nil
}

// decodeValue parses one fixed-width field. Blank numerics, dates and
// unknown logicals decode to nil.
func decodeValue(col Column, raw []byte, dec *encoding.Decoder) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch col.Type {
	case 'N', 'F':
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "*?") == "" {
			return nil, nil
		}
		if col.Type == 'N' && col.Decimals == 0 {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return int64(f), nil
			}
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, nil
		}
		return f, nil
	case 'L':
		switch raw[0] {
		case 'T', 't', 'Y', 'y':
			return true, nil
		case 'F', 'f', 'N', 'n':
			return false, nil
		case '?', ' ', 0:
			return nil, nil
		}
		return nil, fmt.Errorf("%w: logical value %q", ErrBadFormat, raw[0])
	case 'D':
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "0") == "" {
			return nil, nil
		}
		t, err := time.Parse("20060102", s)
		if err != nil {
			return nil, nil
		}
		return t, nil
	}
	text := bytes.TrimRight(raw, " \x00")
	if dec != nil {
		decoded, err := dec.Bytes(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
		}
		text = decoded
	}
	return string(text), nil
}

// dbaseColumns maps attribute types to dbf columns. It runs before any
// output is created so an unmappable attribute never leaves a partial file.
func dbaseColumns(attrs []AttributeType) ([]Column, error) {
	columns := make([]Column, 0, len(attrs))
	for _, at := range attrs {
		if at.Kind == KindGeometry {
			continue
		}
		col, err := columnFor(at)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func columnFor(at AttributeType) (Column, error) {
	name := at.Name
	if len(name) > dbaseNameLength {
		name = name[:dbaseNameLength]
	}
	col := Column{Name: name}
	switch at.Kind {
	case KindInteger:
		col.Type = 'N'
		col.Length = uint8(clampLength(at.Length, maxIntegerLength))
	case KindFloat:
		col.Type = 'N'
		col.Length = uint8(clampLength(at.Length, maxFloatLength))
		col.Decimals = uint8(at.Decimals)
		if at.Decimals <= 0 || at.Decimals >= int(col.Length)-1 {
			col.Decimals = col.Length / 2
		}
	case KindBoolean:
		col.Type, col.Length = 'L', 1
	case KindDate:
		col.Type, col.Length = 'D', 8
	case KindString:
		col.Type = 'C'
		col.Length = uint8(clampLength(at.Length, maxStringLength))
	default:
		return Column{}, fmt.Errorf("%w: %s is %v", ErrUnsupportedType, at.Name, at.Kind)
	}
	return col, nil
}

func clampLength(n, limit int) int {
	if n <= 0 || n > limit {
		return limit
	}
	return n
}

// dbaseWriter streams fixed-width records behind a header placeholder.
type dbaseWriter struct {
	h   *DbaseHeader
	w   *bufio.Writer
	enc *encoding.Encoder
	rec []byte
}

func newDbaseWriter(w io.Writer, h *DbaseHeader, charset encoding.Encoding) (*dbaseWriter, error) {
	if charset == nil {
		charset = charmap.ISO8859_1
	}
	d := &dbaseWriter{
		h:   h,
		w:   bufio.NewWriter(w),
		enc: encoding.ReplaceUnsupported(charset.NewEncoder()),
		rec: make([]byte, h.RecordLength),
	}
	b, _ := h.MarshalBinary()
	if _, err := d.w.Write(b); err != nil {
		return nil, err
	}
	return d, nil
}

// encode fills the pending record from values without writing it, so a
// bad value never leaves a partial row behind.
func (d *dbaseWriter) encode(values []interface{}) error {
	for i := range d.rec {
		d.rec[i] = ' '
	}
	off := 1
	for i, col := range d.h.Columns {
		var v interface{}
		if i < len(values) {
			v = values[i]
		}
		field := d.rec[off : off+int(col.Length)]
		if err := encodeValue(col, v, field, d.enc); err != nil {
			return fmt.Errorf("column %s: %w", col.Name, err)
		}
		off += int(col.Length)
	}
	return nil
}

// emit writes the record prepared by encode.
func (d *dbaseWriter) emit() error {
	if _, err := d.w.Write(d.rec); err != nil {
		return err
	}
	d.h.NumRecords++
	return nil
}

// finish flushes the records and appends the end-of-file marker. The
// header record count is patched separately once the stream is complete.
func (d *dbaseWriter) finish() error {
	if err := d.w.WriteByte(dbaseEOF); err != nil {
		return err
	}
	return d.w.Flush()
}

// encodeValue writes v into the space-filled field.
func encodeValue(col Column, v interface{}, field []byte, enc *encoding.Encoder) error {
	if v == nil {
		if col.Type == 'L' {
			field[0] = '?'
		}
		return nil
	}
	switch col.Type {
	case 'N', 'F':
		var s string
		if col.Decimals == 0 {
			if i, ok := toInt64(v); ok {
				s = strconv.FormatInt(i, 10)
			} else if u, ok := toUint64(v); ok {
				s = strconv.FormatUint(u, 10)
			} else {
				return mismatch(col, v)
			}
		} else {
			f, ok := toFloat64(v)
			if !ok {
				return mismatch(col, v)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil
			}
			s = formatFloat(f, int(col.Decimals), len(field))
		}
		if len(s) > len(field) {
			s = strings.Repeat("*", len(field))
		}
		copy(field[len(field)-len(s):], s)
	case 'L':
		b, ok := v.(bool)
		if !ok {
			return mismatch(col, v)
		}
		field[0] = 'F'
		if b {
			field[0] = 'T'
		}
	case 'D':
		t, ok := v.(time.Time)
		if !ok {
			return mismatch(col, v)
		}
		copy(field, t.Format("20060102"))
	default:
		encoded, err := enc.Bytes([]byte(toString(v)))
		if err != nil {
			return err
		}
		copy(field, encoded)
	}
	return nil
}

// formatFloat drops decimals until the value fits in width.
func formatFloat(f float64, decimals, width int) string {
	s := strconv.FormatFloat(f, 'f', decimals, 64)
	for len(s) > width && decimals > 0 {
		decimals--
		s = strconv.FormatFloat(f, 'f', decimals, 64)
	}
	return s
}

func mismatch(col Column, v interface{}) error {
	return fmt.Errorf("%w: %T in %c column", ErrPropertyMismatch, v, col.Type)
}
