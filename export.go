package shapefile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
)

// ExportOptions configures FlatGeobuf export.
type ExportOptions struct {
	Name         string // Layer name, defaults to the type name
	Description  string // Layer description
	IncludeIndex bool   // Include the packed R-tree
	CRS          *CRS   // Defaults to the .prj companion when present
}

// DefaultExportOptions returns options that write an indexed file.
func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{IncludeIndex: true}
}

// ExportFlatGeobuf streams the features selected by q to w as FlatGeobuf.
// The geometry is always exported, even when q does not name it.
func (s *Store) ExportFlatGeobuf(w io.Writer, q *Query, opts *ExportOptions) error {
	if opts == nil {
		opts = DefaultExportOptions()
	}
	o := *opts
	if o.Name == "" {
		o.Name = s.TypeName()
	}
	if o.CRS == nil {
		crs, err := s.CRS()
		if err != nil {
			return err
		}
		o.CRS = crs
	}

	if q != nil && q.PropertyNames != nil {
		withGeom := *q
		withGeom.PropertyNames = append([]string{GeometryName}, q.PropertyNames...)
		q = &withGeom
	}
	r, err := s.FeatureReader(q)
	if err != nil {
		return err
	}
	defer r.Close()
	return WriteFlatGeobuf(w, r, &o)
}

// WriteFlatGeobuf drains r into w. Features without a geometry are
// skipped; FlatGeobuf has no null geometry.
func WriteFlatGeobuf(w io.Writer, r *FeatureReader, opts *ExportOptions) error {
	if opts == nil {
		opts = DefaultExportOptions()
	}
	builder := flatbuffers.NewBuilder(4096)

	header := writer.NewHeader(builder)
	header.SetGeometryType(fgbGeometryType(r.ft.ShapeType()))
	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}

	names := r.AttributeNames()
	kinds := make([]Kind, len(names))
	columns := make([]*writer.Column, len(names))
	for i, name := range names {
		kinds[i] = KindString
		if j := r.ft.Index(name); j > 0 {
			kinds[i] = r.ft.Attributes[j].Kind
		}
		col := writer.NewColumn(builder)
		col.SetName(name)
		col.SetTitle(name)
		col.SetType(fgbColumnType(kinds[i]))
		col.SetNullable(true)
		columns[i] = col
	}
	if len(columns) > 0 {
		header.SetColumns(columns)
	}

	if opts.CRS != nil {
		crs := writer.NewCrs(builder)
		crs.SetOrg("EPSG")
		if opts.CRS.Code > 0 {
			crs.SetCode(int32(opts.CRS.Code))
		}
		if opts.CRS.Name != "" {
			crs.SetName(opts.CRS.Name)
		}
		switch {
		case opts.CRS.Description != "":
			crs.SetDescription(opts.CRS.Description)
		case opts.CRS.WKT != "":
			crs.SetDescription(opts.CRS.WKT)
		}
		header.SetCrs(crs)
	}

	gen := &readerFeatureGenerator{r: r, kinds: kinds}
	if _, err := writer.NewWriter(header, opts.IncludeIndex, gen, nil).Write(w); err != nil {
		return fmt.Errorf("shapefile: write flatgeobuf: %w", err)
	}
	if gen.err != nil {
		return gen.err
	}
	r.log.Debug("exported flatgeobuf", "features", gen.written, "skipped", gen.skipped)
	return nil
}

// readerFeatureGenerator feeds a FeatureReader to the FlatGeobuf writer.
// The writer interface has no error path, so a read error ends the stream
// and is kept for the caller.
type readerFeatureGenerator struct {
	r       *FeatureReader
	kinds   []Kind
	written int
	skipped int
	err     error
}

func (g *readerFeatureGenerator) Generate() *writer.Feature {
	for {
		f, err := g.r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				g.err = err
			}
			return nil
		}
		if f.Geometry == nil {
			g.skipped++
			continue
		}

		builder := flatbuffers.NewBuilder(1024)
		geom := geometryToFGB(f.Geometry, builder)
		if geom == nil {
			g.skipped++
			continue
		}
		feature := writer.NewFeature(builder)
		feature.SetGeometry(geom)
		if props := encodeProperties(f.Attributes, g.kinds); len(props) > 0 {
			feature.SetProperties(props)
		}
		g.written++
		return feature
	}
}

func fgbColumnType(k Kind) flattypes.ColumnType {
	switch k {
	case KindInteger:
		return flattypes.ColumnTypeLong
	case KindFloat:
		return flattypes.ColumnTypeDouble
	case KindBoolean:
		return flattypes.ColumnTypeBool
	case KindDate:
		return flattypes.ColumnTypeDateTime
	}
	return flattypes.ColumnTypeString
}

// kindFromFGB maps a FlatGeobuf column type to an attribute kind. Binary
// columns have no dbf representation and map to KindObject.
func kindFromFGB(ct flattypes.ColumnType) Kind {
	switch ct {
	case flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte,
		flattypes.ColumnTypeShort, flattypes.ColumnTypeUShort,
		flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt,
		flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		return KindInteger
	case flattypes.ColumnTypeFloat, flattypes.ColumnTypeDouble:
		return KindFloat
	case flattypes.ColumnTypeBool:
		return KindBoolean
	case flattypes.ColumnTypeDateTime:
		return KindDate
	case flattypes.ColumnTypeString, flattypes.ColumnTypeJson:
		return KindString
	}
	return KindObject
}

// encodeProperties writes the non-nil values as [uint16 column][value]
// pairs, column i being attribute i. Values that do not convert to their
// column kind are left out.
func encodeProperties(values []interface{}, kinds []Kind) []byte {
	var b []byte
	for i, v := range values {
		if v == nil || i >= len(kinds) {
			continue
		}
		mark := len(b)
		b = le.AppendUint16(b, uint16(i))
		ok := true
		switch kinds[i] {
		case KindBoolean:
			var flag bool
			if flag, ok = v.(bool); ok {
				if flag {
					b = append(b, 1)
				} else {
					b = append(b, 0)
				}
			}
		case KindInteger:
			var n int64
			if n, ok = toInt64(v); ok {
				b = le.AppendUint64(b, uint64(n))
			}
		case KindFloat:
			var f float64
			if f, ok = toFloat64(v); ok {
				b = le.AppendUint64(b, math.Float64bits(f))
			}
		case KindDate:
			var t time.Time
			if t, ok = v.(time.Time); ok {
				b = appendText(b, t.Format(time.RFC3339))
			}
		default:
			b = appendText(b, toString(v))
		}
		if !ok {
			b = b[:mark]
		}
	}
	return b
}

// appendText writes a uint32 length-prefixed UTF-8 string.
func appendText(b []byte, s string) []byte {
	b = le.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// decodeProperty reads one value of column type ct from the front of
// data, returning it in the form a dbf column of the mapped kind holds and
// the number of bytes consumed. n is 0 when data is short.
func decodeProperty(data []byte, ct flattypes.ColumnType) (v interface{}, n int) {
	fixed := func(size int) bool { return len(data) >= size }
	switch ct {
	case flattypes.ColumnTypeBool:
		if fixed(1) {
			return data[0] != 0, 1
		}
	case flattypes.ColumnTypeByte:
		if fixed(1) {
			return int64(int8(data[0])), 1
		}
	case flattypes.ColumnTypeUByte:
		if fixed(1) {
			return int64(data[0]), 1
		}
	case flattypes.ColumnTypeShort:
		if fixed(2) {
			return int64(int16(le.Uint16(data))), 2
		}
	case flattypes.ColumnTypeUShort:
		if fixed(2) {
			return int64(le.Uint16(data)), 2
		}
	case flattypes.ColumnTypeInt:
		if fixed(4) {
			return int64(int32(le.Uint32(data))), 4
		}
	case flattypes.ColumnTypeUInt:
		if fixed(4) {
			return int64(le.Uint32(data)), 4
		}
	case flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		if fixed(8) {
			return int64(le.Uint64(data)), 8
		}
	case flattypes.ColumnTypeFloat:
		if fixed(4) {
			return float64(math.Float32frombits(le.Uint32(data))), 4
		}
	case flattypes.ColumnTypeDouble:
		if fixed(8) {
			return math.Float64frombits(le.Uint64(data)), 8
		}
	default:
		if !fixed(4) {
			return nil, 0
		}
		size := int(le.Uint32(data))
		if !fixed(4 + size) {
			return nil, 0
		}
		s := string(data[4 : 4+size])
		if ct == flattypes.ColumnTypeDateTime {
			return parseDateTime(s), 4 + size
		}
		if ct == flattypes.ColumnTypeBinary {
			return nil, 4 + size
		}
		return s, 4 + size
	}
	return nil, 0
}

func parseDateTime(s string) interface{} {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return nil
}

// ReadFlatGeobuf decodes an indexed FlatGeobuf file into a collection that
// Store.WriteFeatures can persist. name is used when the file has no layer
// name. Binary columns are dropped.
func ReadFlatGeobuf(data []byte, name string) (*FeatureCollection, error) {
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	h := fgb.Header()
	if h == nil {
		return nil, fmt.Errorf("%w: missing flatgeobuf header", ErrBadFormat)
	}
	if n := string(h.Name()); n != "" {
		name = n
	}

	var (
		attrs []AttributeType
		slots = make([]int, h.ColumnsLength()) // column -> attribute, or -1
		types = make([]flattypes.ColumnType, h.ColumnsLength())
	)
	for i := range slots {
		slots[i] = -1
		var col flattypes.Column
		if !h.Columns(&col, i) {
			continue
		}
		types[i] = col.Type()
		k := kindFromFGB(col.Type())
		if k == KindObject {
			continue
		}
		slots[i] = len(attrs)
		attrs = append(attrs, AttributeType{Name: string(col.Name()), Kind: k})
	}
	fc := NewFeatureCollection(NewFeatureType(name, shapeTypeFromFGB(h.GeometryType()), attrs...))

	if h.FeaturesCount() == 0 {
		return fc, nil
	}
	if h.IndexNodeSize() == 0 || h.EnvelopeLength() < 4 {
		return nil, ErrNoIndex
	}
	features, err := fgb.Search(h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	for i, src := range features {
		f := &Feature{
			ID:         DefaultIDFunc(name, i+1),
			Attributes: make([]interface{}, len(attrs)),
		}
		var geom flattypes.Geometry
		if g := src.Geometry(&geom); g != nil {
			f.Geometry = geometryFromFGB(g)
		}

		props := make([]byte, src.PropertiesLength())
		for j := range props {
			props[j] = byte(src.Properties(j))
		}
		for off := 0; off+2 <= len(props); {
			col := int(le.Uint16(props[off:]))
			if col >= len(types) {
				break
			}
			v, n := decodeProperty(props[off+2:], types[col])
			if n == 0 {
				break
			}
			if slots[col] >= 0 {
				f.Attributes[slots[col]] = v
			}
			off += 2 + n
		}
		fc.Add(f)
	}
	return fc, nil
}
