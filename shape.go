package shapefile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// noDataM is written for measures that are absent. Any value below
// -1e38 is read back as NaN.
const noDataM = -1e39

func isNoData(v float64) bool {
	return math.IsNaN(v) || v < -1e38
}

// Shape is one decoded .shp record.
//
// Geometry is nil for null records. Z and M hold one value per vertex in the
// order the vertices appear when walking Geometry; M is nil when the record
// has no measures or all of them are "no data".
type Shape struct {
	Number    int32
	Type      ShapeType
	Geometry  orb.Geometry
	Z, M      []float64
	PartTypes []int32 // MultiPatch only
}

// decodeShape decodes a record payload. The shape type is taken from the
// record itself.
func decodeShape(num int32, payload []byte) (*Shape, error) {
	c := &sliceCursor{b: payload}
	s := &Shape{Number: num, Type: ShapeType(c.int32(le))}
	if c.err != nil {
		return nil, c.err
	}

	var err error
	switch s.Type {
	case NullShape:
	case Point, PointZ, PointM:
		err = decodePoint(c, s)
	case MultiPoint, MultiPointZ, MultiPointM:
		err = decodeMultiPoint(c, s)
	case PolyLine, PolyLineZ, PolyLineM, Polygon, PolygonZ, PolygonM, MultiPatch:
		err = decodeParts(c, s)
	default:
		return nil, fmt.Errorf("%w: record %d has shape type %d", ErrBadFormat, num, s.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", num, err)
	}
	return s, nil
}

func decodePoint(c *sliceCursor, s *Shape) error {
	p := orb.Point{c.float64(), c.float64()}
	if s.Type == PointZ {
		s.Z = []float64{c.float64()}
	}
	if s.Type == PointM || (s.Type == PointZ && c.remaining() >= 8) {
		s.M = measures(c.float64s(1))
	}
	s.Geometry = p
	return c.err
}

func decodeMultiPoint(c *sliceCursor, s *Shape) error {
	c.take(32) // box
	n := c.count(16)
	xy := c.float64s(2 * n)
	readZM(c, s, n)
	if c.err != nil {
		return c.err
	}
	mp := make(orb.MultiPoint, n)
	for i := range mp {
		mp[i] = orb.Point{xy[2*i], xy[2*i+1]}
	}
	s.Geometry = mp
	return nil
}

func decodeParts(c *sliceCursor, s *Shape) error {
	c.take(32) // box
	numParts := c.count(4)
	numPoints := int(c.int32(le))
	parts := c.int32s(numParts)
	if s.Type == MultiPatch {
		s.PartTypes = c.int32s(numParts)
	}
	if c.err == nil && (numPoints < 0 || numPoints*16 > c.remaining()) {
		c.err = ErrTruncated
	}
	xy := c.float64s(2 * numPoints)
	readZM(c, s, numPoints)
	if c.err != nil {
		return c.err
	}
	if err := checkParts(parts, numPoints); err != nil {
		return err
	}

	lines := make([]orb.LineString, len(parts))
	for i := range parts {
		start, end := partRange(parts, numPoints, i)
		ls := make(orb.LineString, end-start)
		for j := start; j < end; j++ {
			ls[j-start] = orb.Point{xy[2*j], xy[2*j+1]}
		}
		lines[i] = ls
	}

	switch s.Type.Base() {
	case PolyLine:
		s.Geometry = orb.MultiLineString(lines)
	case Polygon:
		rings := make([]orb.Ring, len(lines))
		for i, ls := range lines {
			rings[i] = orb.Ring(ls)
		}
		mp, order := assembleRings(rings)
		s.Geometry = mp
		s.Z = permuteRings(s.Z, parts, numPoints, order)
		s.M = permuteRings(s.M, parts, numPoints, order)
	case MultiPatch:
		coll := make(orb.Collection, len(lines))
		for i, ls := range lines {
			coll[i] = orb.Ring(ls)
		}
		s.Geometry = coll
	}
	return nil
}

// readZM reads the optional Z and M sections of multipoint and part-based
// records. M is optional for Z types and is detected from the bytes left.
func readZM(c *sliceCursor, s *Shape, n int) {
	if s.Type.HasZ() {
		c.take(16)
		s.Z = c.float64s(n)
	}
	if !s.Type.HasM() || c.err != nil {
		return
	}
	if c.remaining() < 16+8*n {
		return
	}
	c.take(16)
	s.M = measures(c.float64s(n))
}

// measures maps "no data" to NaN and drops an array with no data at all.
func measures(ms []float64) []float64 {
	found := false
	for i, m := range ms {
		if isNoData(m) {
			ms[i] = math.NaN()
			continue
		}
		found = true
	}
	if !found {
		return nil
	}
	return ms
}

func checkParts(parts []int32, numPoints int) error {
	for i, p := range parts {
		if p < 0 || int(p) > numPoints || (i == 0 && p != 0) || (i > 0 && p < parts[i-1]) {
			return fmt.Errorf("%w: bad part index %d", ErrBadFormat, p)
		}
	}
	if len(parts) == 0 && numPoints > 0 {
		return fmt.Errorf("%w: %d points without parts", ErrBadFormat, numPoints)
	}
	return nil
}

func partRange(parts []int32, numPoints, i int) (start, end int) {
	start = int(parts[i])
	if i == len(parts)-1 {
		end = numPoints
	} else {
		end = int(parts[i+1])
	}
	return
}

// shapeSize returns the payload size in bytes of a record of type t.
func shapeSize(t ShapeType, numParts, numPoints int) int {
	n := 4
	switch t.Base() {
	case NullShape:
		return n
	case Point:
		n += 16
		if t.HasZ() {
			n += 8
		}
		if t.HasM() {
			n += 8
		}
		return n
	case MultiPoint:
		n += 32 + 4 + 16*numPoints
	case PolyLine, Polygon:
		n += 32 + 4 + 4 + 4*numParts + 16*numPoints
	case MultiPatch:
		n += 32 + 4 + 4 + 8*numParts + 16*numPoints
	}
	if t.HasZ() {
		n += 16 + 8*numPoints
	}
	if t.HasM() {
		n += 16 + 8*numPoints
	}
	return n
}

// ContentLength returns the record content length in 16-bit words that g
// occupies in a file of type t, after shape family coercion.
func ContentLength(t ShapeType, g orb.Geometry) (int32, error) {
	if g == nil {
		return int32(shapeSize(NullShape, 0, 0) / 2), nil
	}
	g, err := coerce(t, g)
	if err != nil {
		return 0, err
	}
	parts, points := countParts(g)
	return int32(shapeSize(t, parts, points) / 2), nil
}

// encodeShape encodes g as the payload of a record in a file of type t.
// z and m are per-vertex values; nil arrays are written as zeros and
// "no data" respectively.
func encodeShape(t ShapeType, g orb.Geometry, z, m []float64) ([]byte, error) {
	if g == nil {
		w := &sliceWriter{}
		w.int32(le, int32(NullShape))
		return w.bytes(), nil
	}
	if t == MultiPatch {
		return nil, fmt.Errorf("%w: writing %v", ErrUnsupportedShape, t)
	}
	g, err := coerce(t, g)
	if err != nil {
		return nil, err
	}
	numParts, numPoints := countParts(g)
	// Unclosed rings gain a vertex when written; z and m follow the input.
	given := numPoints - openRings(g)
	if z != nil && len(z) != given {
		return nil, fmt.Errorf("%w: %d z values for %d points", ErrGeometryMismatch, len(z), given)
	}
	if m != nil && len(m) != given {
		return nil, fmt.Errorf("%w: %d m values for %d points", ErrGeometryMismatch, len(m), given)
	}
	if mp, ok := g.(orb.MultiPolygon); ok {
		g, z, m = orientPolygons(mp, z, m)
	}

	w := &sliceWriter{b: make([]byte, 0, shapeSize(t, numParts, numPoints))}
	w.int32(le, int32(t))

	if p, ok := g.(orb.Point); ok {
		w.float64(p[0])
		w.float64(p[1])
		if t.HasZ() {
			w.float64(valueAt(z, 0, 0))
		}
		if t.HasM() {
			w.float64(valueAt(m, 0, noDataM))
		}
		return w.bytes(), nil
	}

	box := g.Bound()
	if numPoints == 0 {
		box = orb.Bound{}
	}
	writeBox(w, box)
	parts, points := flatten(g)
	if t.Base() != MultiPoint {
		w.int32(le, int32(len(parts)))
	}
	w.int32(le, int32(len(points)))
	if t.Base() != MultiPoint {
		for _, p := range parts {
			w.int32(le, p)
		}
	}
	for _, p := range points {
		w.float64(p[0])
		w.float64(p[1])
	}
	if t.HasZ() {
		writeRange(w, z, numPoints, 0)
	}
	if t.HasM() {
		writeRange(w, m, numPoints, noDataM)
	}
	return w.bytes(), nil
}

func writeBox(w *sliceWriter, b orb.Bound) {
	w.float64(b.Min[0])
	w.float64(b.Min[1])
	w.float64(b.Max[0])
	w.float64(b.Max[1])
}

// writeRange writes a [min, max] pair followed by n values, substituting
// def for missing or NaN entries.
func writeRange(w *sliceWriter, vs []float64, n int, def float64) {
	lo, hi, seen := def, def, false
	for i := 0; i < n; i++ {
		v := valueAt(vs, i, def)
		if isNoData(v) {
			continue
		}
		if !seen {
			lo, hi, seen = v, v, true
			continue
		}
		lo, hi = min(lo, v), max(hi, v)
	}
	if !seen && def == noDataM {
		lo, hi = 0, 0
	}
	w.float64(lo)
	w.float64(hi)
	for i := 0; i < n; i++ {
		w.float64(valueAt(vs, i, def))
	}
}

func valueAt(vs []float64, i int, def float64) float64 {
	if i >= len(vs) || math.IsNaN(vs[i]) {
		return def
	}
	return vs[i]
}

// coerce normalises g into the geometry family of t, wrapping scalar
// geometries into single-element collections for the multi families.
func coerce(t ShapeType, g orb.Geometry) (orb.Geometry, error) {
	switch t.Base() {
	case Point:
		switch v := g.(type) {
		case orb.Point:
			return v, nil
		case orb.MultiPoint:
			if len(v) == 1 {
				return v[0], nil
			}
		}
	case MultiPoint:
		switch v := g.(type) {
		case orb.Point:
			return orb.MultiPoint{v}, nil
		case orb.MultiPoint:
			return v, nil
		}
	case PolyLine:
		switch v := g.(type) {
		case orb.LineString:
			return orb.MultiLineString{v}, nil
		case orb.MultiLineString:
			return v, nil
		}
	case Polygon:
		switch v := g.(type) {
		case orb.Ring:
			return orb.MultiPolygon{{v}}, nil
		case orb.Polygon:
			return orb.MultiPolygon{v}, nil
		case orb.MultiPolygon:
			return v, nil
		case orb.Bound:
			return orb.MultiPolygon{v.ToPolygon()}, nil
		}
	case MultiPatch:
		if v, ok := g.(orb.Collection); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %v file", ErrGeometryMismatch, g.GeoJSONType(), t)
}

// countParts returns the number of parts and vertices of a coerced geometry
// as written, counting the closing vertex of unclosed rings.
func countParts(g orb.Geometry) (parts, points int) {
	switch v := g.(type) {
	case orb.Point:
		return 0, 1
	case orb.MultiPoint:
		return 0, len(v)
	case orb.MultiLineString:
		for _, ls := range v {
			points += len(ls)
		}
		return len(v), points
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				parts++
				points += len(r)
				if !closed(r) {
					points++
				}
			}
		}
		return parts, points
	}
	return 0, 0
}

// flatten returns the part start indexes and the vertex sequence of a
// coerced, non-point geometry.
func flatten(g orb.Geometry) ([]int32, []orb.Point) {
	var (
		parts  []int32
		points []orb.Point
	)
	add := func(ps []orb.Point) {
		parts = append(parts, int32(len(points)))
		points = append(points, ps...)
	}
	switch v := g.(type) {
	case orb.MultiPoint:
		points = append(points, v...)
	case orb.MultiLineString:
		for _, ls := range v {
			add(ls)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			for _, r := range p {
				add(r)
			}
		}
	}
	return parts, points
}

// Vertices returns the vertices of g in the order Z and M values are
// associated with them.
func Vertices(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case nil:
		return nil
	case orb.Point:
		return []orb.Point{v}
	case orb.LineString:
		return v
	case orb.Ring:
		return v
	case orb.Polygon:
		_, pts := flatten(orb.MultiPolygon{v})
		return pts
	case orb.Collection:
		var pts []orb.Point
		for _, c := range v {
			pts = append(pts, Vertices(c)...)
		}
		return pts
	}
	_, pts := flatten(g)
	return pts
}
