package shapefile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/paulmach/orb"
)

// Store provides read and write access to one shapefile triad.
//
// The cached schema is guarded, so a Store may be shared between
// goroutines. Each reader or writer it hands out owns its own file handles
// and must not be shared. Readers running while a write commits may see
// members from either side of the commit.
type Store struct {
	triad *Triad
	opts  *Options
	tr    *transport
	log   *slog.Logger

	mu     sync.Mutex
	schema *FeatureType
}

// Open creates a store for the triad containing location, which may be a
// path or a file, http or https URL naming any of the .shp, .shx or .dbf
// members. Nothing is read until it is needed.
func Open(location string, opts *Options) (*Store, error) {
	triad, err := Companions(location)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	s := &Store{
		triad: triad,
		opts:  opts,
		tr:    &transport{client: opts.HTTPClient},
		log:   opts.Logger.With("shapefile", triad.TypeName()),
	}
	s.log.Debug("opened store", "shp", triad.SHP.Redacted(), "local", s.Local())
	return s, nil
}

// Triad returns the member locations.
func (s *Store) Triad() *Triad {
	return s.triad
}

// TypeName returns the feature type name, the base name of the files.
func (s *Store) TypeName() string {
	return s.triad.TypeName()
}

// Local reports whether the triad lives on the local file system.
func (s *Store) Local() bool {
	return isLocal(s.triad.SHP)
}

// Header reads the .shp header. Only the first 100 bytes are transferred.
func (s *Store) Header() (*Header, error) {
	rc, err := s.tr.open(s.triad.SHP)
	if err != nil {
		return nil, partErr("shp", "open", err)
	}
	defer rc.Close()
	h, err := readHeaderFrom(rc)
	return h, partErr("shp", "read header", err)
}

// Bounds returns the extent recorded in the .shp header without scanning
// any records.
func (s *Store) Bounds() (orb.Bound, error) {
	h, err := s.Header()
	if err != nil {
		return orb.Bound{}, err
	}
	return h.Bound, nil
}

// Count returns the number of records. It reads the .shx header and falls
// back to the .dbf header when there is no index.
func (s *Store) Count() (int, error) {
	rc, err := s.tr.open(s.triad.SHX)
	if err == nil {
		defer rc.Close()
		h, err := readHeaderFrom(rc)
		if err != nil {
			return 0, partErr("shx", "read header", err)
		}
		return h.recordCount(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return 0, partErr("shx", "open", err)
	}
	s.log.Debug("no shx, counting from dbf header")
	dh, err := s.dbaseHeader()
	if err != nil {
		return 0, err
	}
	return int(dh.NumRecords), nil
}

func (s *Store) dbaseHeader() (*DbaseHeader, error) {
	rc, err := s.tr.open(s.triad.DBF)
	if err != nil {
		return nil, partErr("dbf", "open", err)
	}
	defer rc.Close()
	h, err := ReadDbaseHeader(rc)
	return h, partErr("dbf", "read header", err)
}

// Schema returns the feature type, reading the headers once and caching
// the result.
func (s *Store) Schema() (*FeatureType, error) {
	if ft := s.cachedSchema(); ft != nil {
		return ft, nil
	}
	h, err := s.Header()
	if err != nil {
		return nil, err
	}
	dh, err := s.dbaseHeader()
	if err != nil {
		return nil, err
	}
	ft := DeriveFeatureType(s.TypeName(), dh, h.ShapeType)
	s.cacheSchema(ft, false)
	return ft, nil
}

func (s *Store) cachedSchema() *FeatureType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// cacheSchema stores ft, keeping an existing entry unless replace is set.
func (s *Store) cacheSchema(ft *FeatureType, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if replace || s.schema == nil {
		s.schema = ft
	}
}

// CRS reads the .prj companion. It returns nil when there is none.
func (s *Store) CRS() (*CRS, error) {
	b, err := s.tr.readAll(s.triad.PRJ)
	if err != nil {
		return nil, partErr("prj", "read", err)
	}
	if b == nil {
		return nil, nil
	}
	wkt := strings.TrimSpace(string(b))
	crs := &CRS{WKT: wkt}
	if i := strings.IndexByte(wkt, '"'); i >= 0 {
		if j := strings.IndexByte(wkt[i+1:], '"'); j >= 0 {
			crs.Name = wkt[i+1 : i+1+j]
		}
	}
	// .prj files carry no authority code; recognise the common geographic one.
	if crs.Name == "GCS_WGS_1984" {
		crs.Code = 4326
	}
	return crs, nil
}

// ReadAll collects the features selected by q.
func (s *Store) ReadAll(q *Query) (*FeatureCollection, error) {
	r, err := s.FeatureReader(q)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	fc := NewFeatureCollection(r.Schema())
	fc.names = r.proj.names
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return fc, nil
		}
		if err != nil {
			return nil, err
		}
		fc.Add(f)
	}
}

// CreateSchema prepares the store to hold features of type ft. Local
// triads are deleted and replaced by an empty one. Remote members cannot
// be deleted; the schema is kept for the next writer instead.
func (s *Store) CreateSchema(ft *FeatureType) error {
	if err := validateFeatureType(ft); err != nil {
		return err
	}
	if !s.Local() {
		s.log.Warn("remote triad cannot be cleared, schema applies to the next write")
		s.cacheSchema(ft, true)
		return nil
	}
	for _, m := range []struct {
		part string
		path string
	}{
		{"shp", localPath(s.triad.SHP)},
		{"shx", localPath(s.triad.SHX)},
		{"dbf", localPath(s.triad.DBF)},
		{"prj", localPath(s.triad.PRJ)},
	} {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return partErr(m.part, "remove", err)
		}
	}
	w, err := newFeatureWriter(s, ft)
	if err != nil {
		return err
	}
	return w.Close()
}

// FeatureWriter returns a writer that replaces the triad contents with the
// features written to it. The schema comes from CreateSchema or from the
// existing files.
func (s *Store) FeatureWriter() (*FeatureWriter, error) {
	ft, err := s.Schema()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no schema for %s", ErrNoShapeType, s.TypeName())
	}
	if err != nil {
		return nil, err
	}
	return newFeatureWriter(s, ft)
}

// WriteFeatures replaces the triad contents with fc. When neither fc nor a
// previous CreateSchema supplies a shape type, it is inferred from the
// features; an empty collection then fails with ErrNoShapeType.
func (s *Store) WriteFeatures(fc *FeatureCollection) error {
	ft := fc.Type
	if ft == nil {
		ft = s.cachedSchema()
	}
	if ft == nil || ft.ShapeType() == NullShape {
		var names []string
		if ft != nil {
			names = ft.AttributeNames()
		}
		inferred, err := InferFeatureType(s.TypeName(), fc.Features, names)
		if err != nil {
			return err
		}
		ft = inferred
	} else {
		ft = fitStringLengths(ft, fc.Features)
	}

	w, err := newFeatureWriter(s, ft)
	if err != nil {
		return err
	}
	for _, f := range fc.Features {
		if err := w.Write(f); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Close()
}

// fitStringLengths sizes undeclared character columns to the longest value.
func fitStringLengths(ft *FeatureType, features []*Feature) *FeatureType {
	out := &FeatureType{Name: ft.Name, Attributes: append([]AttributeType(nil), ft.Attributes...)}
	for i := 1; i < len(out.Attributes); i++ {
		at := &out.Attributes[i]
		if at.Kind != KindString || at.Length > 0 {
			continue
		}
		for _, f := range features {
			if f != nil && i-1 < len(f.Attributes) {
				at.Length = max(at.Length, textLength(f.Attributes[i-1]))
			}
		}
		at.Length = max(at.Length, 1)
	}
	return out
}

func validateFeatureType(ft *FeatureType) error {
	if ft == nil || len(ft.Attributes) == 0 || ft.Attributes[0].Kind != KindGeometry {
		return fmt.Errorf("%w: feature type has no geometry attribute", ErrNoShapeType)
	}
	t := ft.ShapeType()
	if t == NullShape {
		return ErrNoShapeType
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedShape, t)
	}
	_, err := dbaseColumns(ft.Attributes[1:])
	return err
}
