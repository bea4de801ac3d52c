package shapefile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func popType(name string) *FeatureType {
	return NewFeatureType(name, Point,
		AttributeType{Name: "name", Kind: KindString},
		AttributeType{Name: "pop", Kind: KindInteger},
	)
}

// writePoints creates a point triad in dir with one feature per point.
func writePoints(t *testing.T, dir, name string, points ...orb.Point) *Store {
	t.Helper()
	s, err := Open(filepath.Join(dir, name+".shp"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fc := NewFeatureCollection(popType(name))
	for i, p := range points {
		fc.Add(&Feature{Geometry: p, Attributes: []interface{}{"p" + string(rune('a'+i)), int64(10 * (i + 1))}})
	}
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}
	return s
}

func TestStore_MinimalPoint(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "pts", orb.Point{1, 2})

	bound, err := s.Bounds()
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	want := orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{1, 2}}
	if bound != want {
		t.Errorf("expected bounds %v, got %v", want, bound)
	}

	n, err := s.Count()
	if err != nil || n != 1 {
		t.Errorf("expected count 1, got %d (%v)", n, err)
	}

	fc, err := s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if fc.Len() != 1 {
		t.Fatalf("expected 1 feature, got %d", fc.Len())
	}
	f := fc.Features[0]
	if f.ID != "pts.1" {
		t.Errorf("expected id pts.1, got %s", f.ID)
	}
	if f.Geometry != (orb.Point{1, 2}) {
		t.Errorf("expected POINT(1 2), got %v", f.Geometry)
	}
	if !reflect.DeepEqual(f.Attributes, []interface{}{"pa", int64(10)}) {
		t.Errorf("unexpected attributes %v", f.Attributes)
	}

	// 100 header + 8 record header + 20 payload.
	assertSize(t, filepath.Join(dir, "pts.shp"), 128)
	assertSize(t, filepath.Join(dir, "pts.shx"), 108)
	// 32 + 2*32 + 1 header, 1 + 2 + 16 record, EOF marker.
	assertSize(t, filepath.Join(dir, "pts.dbf"), 97+19+1)
}

func assertSize(t *testing.T, path string, want int64) {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if fi.Size() != want {
		t.Errorf("%s: expected %d bytes, got %d", filepath.Base(path), want, fi.Size())
	}
}

func TestStore_Projection(t *testing.T) {
	s := writePoints(t, t.TempDir(), "pts", orb.Point{1, 2}, orb.Point{3, 4})

	fc, err := s.ReadAll(&Query{PropertyNames: []string{"pop"}})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	for i, f := range fc.Features {
		if len(f.Attributes) != 1 {
			t.Fatalf("expected 1 attribute, got %d", len(f.Attributes))
		}
		if f.Attributes[0] != int64(10*(i+1)) {
			t.Errorf("feature %d: expected pop %d, got %v", i, 10*(i+1), f.Attributes[0])
		}
		if f.Geometry != nil {
			t.Errorf("geometry was not requested, got %v", f.Geometry)
		}
	}

	gj := fc.GeoJSON()
	if _, ok := gj.Features[0].Properties["pop"]; !ok || len(gj.Features[0].Properties) != 1 {
		t.Errorf("geojson should carry the projected names, got %v", gj.Features[0].Properties)
	}

	fc, err = s.ReadAll(&Query{PropertyNames: []string{GeometryName, "nope"}})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	f := fc.Features[1]
	if f.Geometry != (orb.Point{3, 4}) || !reflect.DeepEqual(f.Attributes, []interface{}{nil}) {
		t.Errorf("unexpected feature %+v", f)
	}
}

func TestStore_Filter(t *testing.T) {
	s := writePoints(t, t.TempDir(), "pts", orb.Point{1, 1}, orb.Point{5, 5}, orb.Point{9, 9})
	ft, _ := s.Schema()

	fc, err := s.ReadAll(&Query{Filter: func(f *Feature) bool {
		pop, _ := f.Attribute(ft, "pop").(int64)
		return pop >= 20
	}})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if fc.Len() != 2 || fc.Features[0].ID != "pts.2" || fc.Features[1].ID != "pts.3" {
		t.Errorf("unexpected filtered features %+v", fc.Features)
	}
}

func TestStore_EmptyCollectionNeedsShapeType(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "none.shp"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	err = s.WriteFeatures(NewFeatureCollection(nil))
	if !errors.Is(err, ErrNoShapeType) {
		t.Errorf("expected ErrNoShapeType, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("nothing should be written, found %d entries", len(entries))
	}

	if _, err := s.FeatureWriter(); !errors.Is(err, ErrNoShapeType) {
		t.Errorf("FeatureWriter without a schema: expected ErrNoShapeType, got %v", err)
	}
}

func TestStore_InferredSchema(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "lines.shp"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fc := NewFeatureCollection(&FeatureType{Name: "lines", Attributes: []AttributeType{
		{Name: GeometryName, Kind: KindGeometry},
		{Name: "label"},
		{Name: "len"},
	}})
	fc.Add(&Feature{Geometry: orb.LineString{{0, 0}, {1, 1}}, Attributes: []interface{}{"short", 1.5}})
	fc.Add(&Feature{Geometry: orb.LineString{{2, 2}, {3, 3}}, Attributes: []interface{}{"much longer", 2}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	ft, err := s.Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if ft.ShapeType() != PolyLine {
		t.Errorf("expected PolyLine, got %v", ft.ShapeType())
	}
	if at := ft.Attributes[1]; at.Kind != KindString || at.Length != len("much longer") {
		t.Errorf("label: expected a %d wide string, got %+v", len("much longer"), at)
	}
	if at := ft.Attributes[2]; at.Kind != KindFloat {
		t.Errorf("len: expected a float, got %+v", at)
	}

	got, err := s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if g := got.Features[0].Geometry; !reflect.DeepEqual(g, orb.MultiLineString{{{0, 0}, {1, 1}}}) {
		t.Errorf("expected the line wrapped as a multilinestring, got %v", g)
	}
	if v := got.Features[1].Attributes[1]; v != 2.0 {
		t.Errorf("expected 2.0, got %v", v)
	}
}

func TestStore_IndexOffsets(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "mp.shp"), nil)
	geoms := []orb.Geometry{
		orb.MultiPoint{{0, 0}},
		nil,
		orb.MultiPoint{{1, 1}, {2, 2}, {3, 3}},
	}
	fc := NewFeatureCollection(NewFeatureType("mp", MultiPoint))
	for _, g := range geoms {
		fc.Add(&Feature{Geometry: g})
	}
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "mp.shx"))
	if err != nil {
		t.Fatalf("open shx: %v", err)
	}
	defer f.Close()
	_, index, err := ReadIndex(f)
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}
	if len(index) != len(geoms) {
		t.Fatalf("expected %d entries, got %d", len(geoms), len(index))
	}

	shp, _ := os.ReadFile(filepath.Join(dir, "mp.shp"))
	offset := int32(headerLength / 2)
	for i, g := range geoms {
		words, _ := ContentLength(MultiPoint, g)
		want := IndexEntry{Offset: offset, Length: words}
		if index[i] != want {
			t.Errorf("entry %d: expected %+v, got %+v", i, want, index[i])
		}
		rec := shp[offset*2:]
		if num := be.Uint32(rec); num != uint32(i+1) {
			t.Errorf("record %d numbered %d", i+1, num)
		}
		offset += 4 + words
	}
	h, _ := ReadHeader(shp)
	if h.FileLength != offset || int(offset)*2 != len(shp) {
		t.Errorf("file length %d words, expected %d (%d bytes on disk)", h.FileLength, offset, len(shp))
	}

	fc, err = s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if fc.Features[1].Geometry != nil {
		t.Errorf("expected a null geometry, got %v", fc.Features[1].Geometry)
	}
	if h.Bound != (orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{3, 3}}) {
		t.Errorf("unexpected header bounds %v", h.Bound)
	}
}

func TestStore_Inconsistent(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "long", orb.Point{1, 1}, orb.Point{2, 2})
	writePoints(t, dir, "short", orb.Point{1, 1})

	dbf, err := os.ReadFile(filepath.Join(dir, "short.dbf"))
	if err != nil {
		t.Fatalf("read dbf: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "long.dbf"), dbf, 0o644); err != nil {
		t.Fatalf("write dbf: %v", err)
	}

	s, _ := Open(filepath.Join(dir, "long.shp"), nil)
	r, err := s.FeatureReader(nil)
	if err != nil {
		t.Fatalf("FeatureReader failed: %v", err)
	}
	defer r.Close()

	if ok, err := r.HasNext(); !ok || err != nil {
		t.Fatalf("first feature: ok=%t err=%v", ok, err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	ok, err := r.HasNext()
	if ok || !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent, got ok=%t err=%v", ok, err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrInconsistent) {
		t.Errorf("the error should persist, got %v", err)
	}
}

func TestStore_MixedShapes(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "pts", orb.Point{1, 1})
	path := filepath.Join(dir, "pts.shp")
	shp, _ := os.ReadFile(path)
	le.PutUint32(shp[headerLength+8:], uint32(MultiPoint))
	if err := os.WriteFile(path, shp, 0o644); err != nil {
		t.Fatalf("write shp: %v", err)
	}

	s, _ := Open(path, nil)
	_, err := s.ReadAll(nil)
	if !errors.Is(err, ErrMixedShapes) || !errors.Is(err, ErrBadFormat) {
		t.Errorf("expected ErrMixedShapes, got %v", err)
	}
	var pe *PartError
	if !errors.As(err, &pe) || pe.Part != "shp" {
		t.Errorf("expected the shp member to be blamed, got %v", err)
	}
}

func TestStore_DeletedRows(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "pts", orb.Point{1, 1}, orb.Point{2, 2})
	path := filepath.Join(dir, "pts.dbf")
	dbf, _ := os.ReadFile(path)
	h, err := ReadDbaseHeader(bytes.NewReader(dbf))
	if err != nil {
		t.Fatalf("ReadDbaseHeader failed: %v", err)
	}
	dbf[h.HeaderLength] = dbaseDeleted
	if err := os.WriteFile(path, dbf, 0o644); err != nil {
		t.Fatalf("write dbf: %v", err)
	}

	s, _ := Open(filepath.Join(dir, "pts.shp"), nil)
	fc, err := s.ReadAll(nil)
	if err != nil || fc.Len() != 2 {
		t.Fatalf("deleted rows are returned by default: got %d (%v)", fc.Len(), err)
	}

	s, _ = Open(filepath.Join(dir, "pts.shp"), &Options{SkipDeleted: true})
	fc, err = s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if fc.Len() != 1 || fc.Features[0].ID != "pts.2" {
		t.Errorf("expected only pts.2, got %+v", fc.Features)
	}
}

func TestStore_CreateSchema(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "layer", orb.Point{1, 1}, orb.Point{2, 2})

	ft := NewFeatureType("layer", PolyLineM, AttributeType{Name: "note", Kind: KindString, Length: 8})
	if err := s.CreateSchema(ft); err != nil {
		t.Fatalf("CreateSchema failed: %v", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("expected an empty triad, got %d records", n)
	}
	got, err := s.Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if got.ShapeType() != PolyLineM || !reflect.DeepEqual(got.AttributeNames(), []string{"note"}) {
		t.Errorf("unexpected schema %+v", got)
	}

	w, err := s.FeatureWriter()
	if err != nil {
		t.Fatalf("FeatureWriter failed: %v", err)
	}
	err = w.Write(&Feature{
		Geometry:   orb.LineString{{0, 0}, {10, 0}},
		M:          []float64{0, 10},
		Attributes: []interface{}{"edge"},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Write(&Feature{}); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close: expected ErrClosed, got %v", err)
	}

	h, err := s.Header()
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if h.MMin != 0 || h.MMax != 10 {
		t.Errorf("expected m range [0, 10], got [%v, %v]", h.MMin, h.MMax)
	}
	fc, _ := s.ReadAll(nil)
	if fc.Len() != 1 || !reflect.DeepEqual(fc.Features[0].M, []float64{0, 10}) {
		t.Errorf("unexpected features %+v", fc.Features)
	}
}

func TestStore_CreateSchemaRejectsObject(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "keep", orb.Point{1, 1})

	ft := NewFeatureType("keep", Point, AttributeType{Name: "blob", Kind: KindObject})
	if err := s.CreateSchema(ft); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if n, _ := s.Count(); n != 1 {
		t.Errorf("existing files must survive a rejected schema, got %d records", n)
	}
}

func TestStore_FailedWriteKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "pts", orb.Point{1, 1}, orb.Point{2, 2})

	fc := NewFeatureCollection(popType("pts"))
	fc.Add(&Feature{Geometry: orb.Point{5, 5}, Attributes: []interface{}{"ok", 1}})
	fc.Add(&Feature{Geometry: orb.LineString{{0, 0}, {1, 1}}, Attributes: []interface{}{"bad", 2}})
	if err := s.WriteFeatures(fc); !errors.Is(err, ErrGeometryMismatch) {
		t.Fatalf("expected ErrGeometryMismatch, got %v", err)
	}

	if n, _ := s.Count(); n != 2 {
		t.Errorf("target should be untouched, got %d records", n)
	}
	assertOnlyTriad(t, dir, "pts")
}

func TestFeatureWriter_AbortAndBadValue(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "pts", orb.Point{1, 1})

	w, err := s.FeatureWriter()
	if err != nil {
		t.Fatalf("FeatureWriter failed: %v", err)
	}
	if err := w.Write(&Feature{Geometry: orb.Point{0, 0}, Attributes: []interface{}{"x", "NaN"}}); !errors.Is(err, ErrPropertyMismatch) {
		t.Errorf("expected ErrPropertyMismatch, got %v", err)
	}
	if err := w.Write(&Feature{Geometry: orb.Point{3, 3}, Attributes: []interface{}{"y", 3}}); err != nil {
		t.Errorf("a rejected feature should not end the session: %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	fc, _ := s.ReadAll(nil)
	if fc.Len() != 1 || fc.Features[0].Geometry != (orb.Point{1, 1}) {
		t.Errorf("abort must leave the target as it was, got %+v", fc.Features)
	}
	assertOnlyTriad(t, dir, "pts")
}

// assertOnlyTriad fails when scratch files are left next to the triad.
func assertOnlyTriad(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	sort.Strings(got)
	want := []string{name + ".dbf", name + ".shp", name + ".shx"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v in %s, got %v", want, dir, got)
	}
}

func TestStore_CRS(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "geo.shp"), &Options{CRS: WGS84()})
	if crs, err := s.CRS(); err != nil || crs != nil {
		t.Errorf("expected no CRS before writing, got %v (%v)", crs, err)
	}

	fc := NewFeatureCollection(NewFeatureType("geo", Point))
	fc.Add(&Feature{Geometry: orb.Point{10, 60}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}
	crs, err := s.CRS()
	if err != nil {
		t.Fatalf("CRS failed: %v", err)
	}
	if crs == nil || crs.Name != "GCS_WGS_1984" || crs.Code != 4326 || crs.WKT != WGS84().WKT {
		t.Errorf("unexpected CRS %+v", crs)
	}
}

func TestStore_CountWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "pts", orb.Point{1, 1}, orb.Point{2, 2}, orb.Point{3, 3})
	if err := os.Remove(filepath.Join(dir, "pts.shx")); err != nil {
		t.Fatalf("remove shx: %v", err)
	}
	n, err := s.Count()
	if err != nil || n != 3 {
		t.Errorf("expected 3 from the dbf header, got %d (%v)", n, err)
	}
}

func TestStore_MissingFiles(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "ghost.shp"), nil)
	_, err := s.ReadAll(nil)
	var pe *PartError
	if !errors.As(err, &pe) || pe.Part != "shp" || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected a shp not-exist error, got %v", err)
	}
}

func TestFeatureReader_IteratorContract(t *testing.T) {
	s := writePoints(t, t.TempDir(), "pts", orb.Point{1, 1}, orb.Point{2, 2})
	r, err := s.FeatureReader(&Query{PropertyNames: []string{"name"}})
	if err != nil {
		t.Fatalf("FeatureReader failed: %v", err)
	}
	if !reflect.DeepEqual(r.AttributeNames(), []string{"name"}) {
		t.Errorf("unexpected attribute names %v", r.AttributeNames())
	}

	// HasNext may be called repeatedly without advancing.
	for i := 0; i < 3; i++ {
		if ok, err := r.HasNext(); !ok || err != nil {
			t.Fatalf("HasNext: ok=%t err=%v", ok, err)
		}
	}
	var ids []string
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		ids = append(ids, f.ID)
	}
	if !reflect.DeepEqual(ids, []string{"pts.1", "pts.2"}) {
		t.Errorf("unexpected ids %v", ids)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close after exhaustion failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestStore_CustomIDsAndCharset(t *testing.T) {
	dir := t.TempDir()
	opts := &Options{
		IDFunc: func(typeName string, ordinal int) string { return typeName + "#" + string(rune('0'+ordinal)) },
	}
	s, _ := Open(filepath.Join(dir, "towns.shp"), opts)
	ft := NewFeatureType("towns", Point,
		AttributeType{Name: "name", Kind: KindString},
		AttributeType{Name: "founded", Kind: KindDate},
	)
	fc := NewFeatureCollection(ft)
	founded := time.Date(1048, 6, 1, 0, 0, 0, 0, time.UTC)
	fc.Add(&Feature{Geometry: orb.Point{10.4, 63.4}, Attributes: []interface{}{"Trondheim", nil}})
	fc.Add(&Feature{Geometry: orb.Point{-46.6, -23.5}, Attributes: []interface{}{"São Paulo", founded}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	got, err := s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	second := got.Features[1]
	if second.ID != "towns#2" {
		t.Errorf("expected towns#2, got %s", second.ID)
	}
	if second.Attributes[0] != "São Paulo" {
		t.Errorf("expected São Paulo, got %q", second.Attributes[0])
	}
	if d, ok := second.Attributes[1].(time.Time); !ok || !d.Equal(founded) {
		t.Errorf("expected %v, got %v", founded, second.Attributes[1])
	}
	if got.Features[0].Attributes[1] != nil {
		t.Errorf("a missing date should read as nil, got %v", got.Features[0].Attributes[1])
	}
}

func TestStore_InconsistentDbfLonger(t *testing.T) {
	dir := t.TempDir()
	writePoints(t, dir, "long", orb.Point{1, 1}, orb.Point{2, 2})
	writePoints(t, dir, "short", orb.Point{1, 1})

	dbf, err := os.ReadFile(filepath.Join(dir, "long.dbf"))
	if err != nil {
		t.Fatalf("read dbf: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "short.dbf"), dbf, 0o644); err != nil {
		t.Fatalf("write dbf: %v", err)
	}

	s, _ := Open(filepath.Join(dir, "short.shp"), nil)
	r, err := s.FeatureReader(nil)
	if err != nil {
		t.Fatalf("FeatureReader failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	ok, err := r.HasNext()
	if ok || !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent, got ok=%t err=%v", ok, err)
	}
	if _, err := s.ReadAll(nil); !errors.Is(err, ErrInconsistent) {
		t.Errorf("ReadAll: expected ErrInconsistent, got %v", err)
	}
}

func TestStore_SingleStringAttribute(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "one.shp"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fc := NewFeatureCollection(NewFeatureType("one", Point, AttributeType{Name: "label", Kind: KindString}))
	fc.Add(&Feature{Geometry: orb.Point{1, 2}, Attributes: []interface{}{"a"}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	got, err := s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got.Len() != 1 {
		t.Fatalf("expected exactly 1 feature, got %d", got.Len())
	}
	if !reflect.DeepEqual(got.Features[0].Attributes, []interface{}{"a"}) {
		t.Errorf("expected attributes [a], got %v", got.Features[0].Attributes)
	}

	ft, err := s.Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}
	if len(ft.Attributes) != 2 || ft.Attributes[0].Name != GeometryName || ft.Attributes[1].Name != "label" {
		t.Errorf("expected the geometry and label attributes, got %+v", ft.Attributes)
	}

	b, err := s.Bounds()
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if b.Min != (orb.Point{1, 2}) || b.Max != (orb.Point{1, 2}) {
		t.Errorf("expected x and y ranges [1, 1] and [2, 2], got %v", b)
	}
}

func TestStore_InferredFloatFromMixedNumbers(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "nums.shp"), nil)
	fc := NewFeatureCollection(&FeatureType{Name: "nums", Attributes: []AttributeType{
		{Name: GeometryName, Kind: KindGeometry},
		{Name: "v"},
	}})
	fc.Add(&Feature{Geometry: orb.Point{0, 0}, Attributes: []interface{}{1.5}})
	fc.Add(&Feature{Geometry: orb.Point{1, 1}, Attributes: []interface{}{int16(7)}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	got, err := s.ReadAll(nil)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	for i, want := range []interface{}{1.5, 7.0} {
		if v := got.Features[i].Attributes[0]; v != want {
			t.Errorf("feature %d: expected %v, got %v", i, want, v)
		}
	}
}

func TestStore_EmptyGeometryExtent(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "mp.shp"), nil)
	fc := NewFeatureCollection(NewFeatureType("mp", MultiPoint))
	fc.Add(&Feature{Geometry: orb.MultiPoint{}})
	fc.Add(&Feature{Geometry: orb.MultiPoint{{1, 1}, {2, 2}}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}

	b, err := s.Bounds()
	if err != nil {
		t.Fatalf("Bounds failed: %v", err)
	}
	if want := (orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}); b != want {
		t.Errorf("an empty geometry must not widen the bounds: expected %v, got %v", want, b)
	}

	shp, _ := os.ReadFile(filepath.Join(dir, "mp.shp"))
	box := shp[headerLength+8+4 : headerLength+8+36]
	if !bytes.Equal(box, make([]byte, 32)) {
		t.Errorf("expected a zero box for the empty record, got % x", box)
	}
}

func TestStore_RewriteRemovesStalePRJ(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geo.shp")
	s, _ := Open(path, &Options{CRS: WGS84()})
	fc := NewFeatureCollection(NewFeatureType("geo", Point))
	fc.Add(&Feature{Geometry: orb.Point{10, 60}})
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "geo.prj")); err != nil {
		t.Fatalf("expected a .prj after the first write: %v", err)
	}

	s, _ = Open(path, nil)
	if err := s.WriteFeatures(fc); err != nil {
		t.Fatalf("WriteFeatures failed: %v", err)
	}
	if crs, err := s.CRS(); err != nil || crs != nil {
		t.Errorf("expected no CRS after rewriting without one, got %+v (%v)", crs, err)
	}
	assertOnlyTriad(t, dir, "geo")
}

func TestStore_ConcurrentReadAndWrite(t *testing.T) {
	dir := t.TempDir()
	s := writePoints(t, dir, "pts", orb.Point{1, 1}, orb.Point{2, 2})

	fc := NewFeatureCollection(popType("pts"))
	fc.Add(&Feature{Geometry: orb.Point{1, 1}, Attributes: []interface{}{"pa", int64(10)}})
	fc.Add(&Feature{Geometry: orb.Point{2, 2}, Attributes: []interface{}{"pb", int64(20)}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				got, err := s.ReadAll(nil)
				if err != nil {
					t.Errorf("ReadAll failed: %v", err)
					return
				}
				if got.Len() != 2 {
					t.Errorf("expected 2 features, got %d", got.Len())
				}
				if _, err := s.Schema(); err != nil {
					t.Errorf("Schema failed: %v", err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := s.WriteFeatures(fc); err != nil {
					t.Errorf("WriteFeatures failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assertOnlyTriad(t, dir, "pts")
}
