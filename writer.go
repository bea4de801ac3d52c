package shapefile

import (
	"bufio"
	"os"
	"path/filepath"
)

type writerState int

const (
	writerStreaming writerState = iota
	writerFailed
	writerClosed
)

// FeatureWriter streams features into a scratch triad. Close patches the
// headers with the final lengths, bounds and record count and then moves
// the triad over its target; until then the target is left untouched.
type FeatureWriter struct {
	store  *Store
	ft     *FeatureType
	t      ShapeType
	tmp    *tempTriad
	shp    *bufio.Writer
	shx    *bufio.Writer
	dbf    *dbaseWriter
	offset int32 // .shp length so far, in words
	count  int32
	ext    extent
	state  writerState
	err    error
}

func newFeatureWriter(s *Store, ft *FeatureType) (*FeatureWriter, error) {
	if err := validateFeatureType(ft); err != nil {
		return nil, err
	}
	columns, err := dbaseColumns(ft.Attributes[1:])
	if err != nil {
		return nil, err
	}

	dir := s.opts.TempDir
	if s.Local() {
		dir = filepath.Dir(localPath(s.triad.SHP))
	}
	tmp, err := newTempTriad(dir, s.TypeName())
	if err != nil {
		return nil, err
	}
	w := &FeatureWriter{
		store:  s,
		ft:     ft,
		t:      ft.ShapeType(),
		tmp:    tmp,
		shp:    bufio.NewWriter(tmp.shp),
		shx:    bufio.NewWriter(tmp.shx),
		offset: headerLength / 2,
	}

	// Placeholder headers; the real ones are written by Close.
	placeholder, _ := newHeader(w.t).MarshalBinary()
	if _, err := w.shp.Write(placeholder); err != nil {
		tmp.release()
		return nil, partErr("shp", "write header", err)
	}
	if _, err := w.shx.Write(placeholder); err != nil {
		tmp.release()
		return nil, partErr("shx", "write header", err)
	}
	dh := newDbaseHeader(columns)
	dh.LanguageDriver = driverFor(s.opts.Charset)
	if w.dbf, err = newDbaseWriter(tmp.dbf, dh, s.opts.Charset); err != nil {
		tmp.release()
		return nil, partErr("dbf", "write header", err)
	}
	s.log.Debug("write session opened", "shapeType", w.t, "columns", len(columns), "scratch", tmp.dir)
	return w, nil
}

// Schema returns the feature type being written.
func (w *FeatureWriter) Schema() *FeatureType {
	return w.ft
}

// Write appends one feature. Its geometry is coerced to the file's shape
// family and its attributes are matched positionally to the dbf columns.
// A feature that cannot be encoded is rejected without affecting the
// session; an I/O failure ends it.
func (w *FeatureWriter) Write(f *Feature) error {
	switch w.state {
	case writerClosed:
		return ErrClosed
	case writerFailed:
		return w.err
	}
	if f == nil {
		return ErrNilGeometry
	}

	payload, err := encodeShape(w.t, f.Geometry, f.Z, f.M)
	if err != nil {
		return err
	}
	if err := w.dbf.encode(f.Attributes); err != nil {
		return err
	}

	w.count++
	words := int32(len(payload) / 2)
	rec := make([]byte, 0, 8+len(payload))
	rec = be.AppendUint32(rec, uint32(w.count))
	rec = be.AppendUint32(rec, uint32(words))
	rec = append(rec, payload...)
	if _, err := w.shp.Write(rec); err != nil {
		return w.fail(partErr("shp", "write", err))
	}
	entry := IndexEntry{Offset: w.offset, Length: words}
	if _, err := w.shx.Write(entry.appendTo(nil)); err != nil {
		return w.fail(partErr("shx", "write", err))
	}
	if err := w.dbf.emit(); err != nil {
		return w.fail(partErr("dbf", "write", err))
	}
	w.offset += 4 + words

	if n := len(Vertices(f.Geometry)); n > 0 {
		w.ext.addBound(f.Geometry.Bound())
		if w.t.HasZ() {
			w.ext.addZ(zOrZeros(f.Z, n))
		}
		if w.t.HasM() {
			w.ext.addM(f.M)
		}
	}
	return nil
}

func (w *FeatureWriter) fail(err error) error {
	w.state, w.err = writerFailed, err
	return err
}

// Close finalises the headers and publishes the triad. After a failed
// Write it discards the scratch files and returns the failure instead.
// The scratch files are removed on every path.
func (w *FeatureWriter) Close() error {
	if w.state == writerClosed {
		return nil
	}
	failed := w.state == writerFailed
	w.state = writerClosed
	defer w.tmp.release()
	if failed {
		return w.err
	}

	if err := w.finalize(); err != nil {
		return err
	}
	if crs := w.store.opts.CRS; crs != nil && crs.WKT != "" {
		w.tmp.prj = []byte(crs.WKT)
	}
	if err := w.tmp.commit(w.store.triad, w.store.tr); err != nil {
		return err
	}
	w.store.cacheSchema(nil, true)
	w.store.log.Debug("write session committed", "records", w.count, "bound", w.ext.bound)
	return nil
}

// Abort discards everything written so far.
func (w *FeatureWriter) Abort() error {
	if w.state == writerClosed {
		return nil
	}
	w.state = writerClosed
	return w.tmp.release()
}

// finalize flushes the streams and rewrites the three headers in place.
func (w *FeatureWriter) finalize() error {
	if err := w.shp.Flush(); err != nil {
		return partErr("shp", "flush", err)
	}
	if err := w.shx.Flush(); err != nil {
		return partErr("shx", "flush", err)
	}
	if err := w.dbf.finish(); err != nil {
		return partErr("dbf", "flush", err)
	}

	h := newHeader(w.t)
	h.FileLength = w.offset
	w.ext.apply(h)
	if err := writeHeaderAt(w.tmp.shp, h); err != nil {
		return partErr("shp", "patch header", err)
	}
	h.FileLength = headerLength/2 + w.count*indexEntrySize/2
	if err := writeHeaderAt(w.tmp.shx, h); err != nil {
		return partErr("shx", "patch header", err)
	}
	dh, _ := w.dbf.h.MarshalBinary()
	if _, err := w.tmp.dbf.WriteAt(dh, 0); err != nil {
		return partErr("dbf", "patch header", err)
	}
	for part, f := range map[string]*os.File{"shp": w.tmp.shp, "shx": w.tmp.shx, "dbf": w.tmp.dbf} {
		if err := f.Sync(); err != nil {
			return partErr(part, "sync", err)
		}
	}
	return nil
}

func zOrZeros(z []float64, n int) []float64 {
	if z != nil {
		return z
	}
	return make([]float64, n)
}
