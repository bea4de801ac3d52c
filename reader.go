package shapefile

import (
	"fmt"
	"io"
	"log/slog"
)

// FeatureReader iterates the features of a triad, advancing the .shp
// records and .dbf rows in lockstep.
type FeatureReader struct {
	shp, dbf io.ReadCloser
	records  *readCursor
	rows     *dbaseReader
	header   *Header
	end      int64 // byte length of the .shp stream
	ft       *FeatureType
	proj     projection
	filter   func(*Feature) bool
	idFunc   IDFunc
	skipDel  bool
	log      *slog.Logger
	ordinal  int
	pending  *Feature
	err      error
	closed   bool
}

// FeatureReader opens a reader over the features selected by q. A nil q
// returns every feature with every attribute.
func (s *Store) FeatureReader(q *Query) (*FeatureReader, error) {
	if q == nil {
		q = AllProperties()
	}
	r := &FeatureReader{
		filter:  q.Filter,
		idFunc:  s.opts.IDFunc,
		skipDel: s.opts.SkipDeleted,
		log:     s.log,
	}
	if err := r.open(s); err != nil {
		r.Close()
		return nil, err
	}
	s.cacheSchema(r.ft, false)
	r.proj = project(r.ft, q.PropertyNames)
	return r, nil
}

func (r *FeatureReader) open(s *Store) error {
	var err error
	if r.shp, err = s.tr.open(s.triad.SHP); err != nil {
		return partErr("shp", "open", err)
	}
	if r.dbf, err = s.tr.open(s.triad.DBF); err != nil {
		return partErr("dbf", "open", err)
	}
	if r.header, err = readHeaderFrom(r.shp); err != nil {
		return partErr("shp", "read header", err)
	}
	if r.rows, err = newDbaseReader(r.dbf, s.opts.BufferSize, s.opts.Charset); err != nil {
		return partErr("dbf", "read header", err)
	}
	r.records = newReadCursor(r.shp, s.opts.BufferSize)
	r.records.offset = headerLength
	r.end = int64(r.header.FileLength) * 2
	r.ft = DeriveFeatureType(s.TypeName(), r.rows.h, r.header.ShapeType)
	return nil
}

// Schema returns the full feature type of the triad.
func (r *FeatureReader) Schema() *FeatureType {
	return r.ft
}

// AttributeNames returns the names of the attributes each feature carries,
// in order, after projection.
func (r *FeatureReader) AttributeNames() []string {
	return r.proj.names
}

// HasNext reports whether another feature is available. Any error ends the
// iteration and releases the files.
func (r *FeatureReader) HasNext() (bool, error) {
	if r.pending != nil {
		return true, nil
	}
	if r.err != nil {
		return false, r.err
	}
	if r.closed {
		return false, nil
	}
	f, err := r.advance()
	if err != nil {
		r.err = err
		r.Close()
		return false, err
	}
	if f == nil {
		r.Close()
		return false, nil
	}
	r.pending = f
	return true, nil
}

// Next returns the next feature, or io.EOF after the last one.
func (r *FeatureReader) Next() (*Feature, error) {
	ok, err := r.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}
	f := r.pending
	r.pending = nil
	return f, nil
}

// advance reads record pairs until one passes the filters. It returns nil
// at the end of the triad.
func (r *FeatureReader) advance() (*Feature, error) {
	for {
		shpMore := r.records.position() < r.end
		dbfMore := r.rows.hasNext()
		if shpMore != dbfMore {
			return nil, fmt.Errorf("%w: after %d records shp more=%t dbf more=%t",
				ErrInconsistent, r.ordinal, shpMore, dbfMore)
		}
		if !shpMore {
			return nil, nil
		}

		shape, err := r.nextShape()
		if err != nil {
			return nil, partErr("shp", "read", err)
		}
		row, deleted, err := r.rows.next(r.proj.columns)
		if err != nil {
			return nil, partErr("dbf", "read", err)
		}
		r.ordinal++
		if deleted && r.skipDel {
			r.log.Debug("skipping deleted row", "ordinal", r.ordinal)
			continue
		}

		f := &Feature{
			ID:         r.idFunc(r.ft.Name, r.ordinal),
			Attributes: row,
		}
		if shape != nil {
			f.Geometry, f.Z, f.M = shape.Geometry, shape.Z, shape.M
		}
		if r.filter != nil && !r.filter(f) {
			continue
		}
		return f, nil
	}
}

// nextShape reads one record. The geometry is only decoded when the
// projection asks for it; the shape type is checked either way.
func (r *FeatureReader) nextShape() (*Shape, error) {
	num, err := r.records.int32(be)
	if err != nil {
		return nil, err
	}
	words, err := r.records.int32(be)
	if err != nil {
		return nil, err
	}
	if words < 2 || r.records.position()+int64(words)*2 > r.end {
		return nil, fmt.Errorf("%w: record %d length %d", ErrBadFormat, num, words)
	}
	payload, err := r.records.next(int(words) * 2)
	if err != nil {
		return nil, err
	}
	t := ShapeType(le.Uint32(payload))
	if t != NullShape && t != r.header.ShapeType {
		return nil, fmt.Errorf("%w: record %d is %v in a %v file", ErrMixedShapes, num, t, r.header.ShapeType)
	}
	if !r.proj.geometry {
		return nil, nil
	}
	return decodeShape(num, payload)
}

// Close releases the files. It is safe to call more than once.
func (r *FeatureReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	for _, c := range []io.Closer{r.shp, r.dbf} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
