package shapefile

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// fgbGeometryType maps the geometry family of a shape type to the
// FlatGeobuf header geometry type.
func fgbGeometryType(t ShapeType) flattypes.GeometryType {
	switch t.Base() {
	case Point:
		return flattypes.GeometryTypePoint
	case MultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case PolyLine:
		return flattypes.GeometryTypeMultiLineString
	case Polygon:
		return flattypes.GeometryTypeMultiPolygon
	case MultiPatch:
		return flattypes.GeometryTypeGeometryCollection
	}
	return flattypes.GeometryTypeUnknown
}

// shapeTypeFromFGB is the inverse of fgbGeometryType for the 2D families.
// Types with no shapefile equivalent map to NullShape.
func shapeTypeFromFGB(gt flattypes.GeometryType) ShapeType {
	switch gt {
	case flattypes.GeometryTypePoint:
		return Point
	case flattypes.GeometryTypeMultiPoint:
		return MultiPoint
	case flattypes.GeometryTypeLineString, flattypes.GeometryTypeMultiLineString:
		return PolyLine
	case flattypes.GeometryTypePolygon, flattypes.GeometryTypeMultiPolygon:
		return Polygon
	}
	return NullShape
}

// geometryToFGB converts a decoded shape geometry into a FlatGeobuf
// geometry. It returns nil for geometries FlatGeobuf cannot carry.
func geometryToFGB(geom orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	g := writer.NewGeometry(builder)

	switch v := geom.(type) {
	case orb.Point:
		g.SetType(flattypes.GeometryTypePoint)
		g.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		g.SetType(flattypes.GeometryTypeMultiPoint)
		g.SetXY(appendXY(make([]float64, 0, 2*len(v)), v))

	case orb.LineString:
		g.SetType(flattypes.GeometryTypeLineString)
		g.SetXY(appendXY(make([]float64, 0, 2*len(v)), v))

	case orb.MultiLineString:
		g.SetType(flattypes.GeometryTypeMultiLineString)
		runs := make([][]orb.Point, len(v))
		for i, ls := range v {
			runs[i] = ls
		}
		xy, ends := xyEnds(runs)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.Ring:
		return geometryToFGB(orb.Polygon{v}, builder)

	case orb.Polygon:
		g.SetType(flattypes.GeometryTypePolygon)
		xy, ends := polygonXYEnds(v)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.MultiPolygon:
		g.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			parts = append(parts, *geometryToFGB(poly, builder))
		}
		g.SetParts(parts)

	case orb.Collection:
		// MultiPatch parts travel as polygons of one ring each.
		g.SetType(flattypes.GeometryTypeGeometryCollection)
		parts := make([]writer.Geometry, 0, len(v))
		for _, child := range v {
			if pg := geometryToFGB(child, builder); pg != nil {
				parts = append(parts, *pg)
			}
		}
		g.SetParts(parts)

	default:
		return nil
	}

	return g
}

func appendXY(xy []float64, pts []orb.Point) []float64 {
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

// xyEnds flattens runs of vertices into one coordinate array plus the
// cumulative vertex count at the end of each run.
func xyEnds(runs [][]orb.Point) ([]float64, []uint32) {
	n := 0
	for _, r := range runs {
		n += len(r)
	}
	xy := make([]float64, 0, 2*n)
	ends := make([]uint32, 0, len(runs))
	for _, r := range runs {
		xy = appendXY(xy, r)
		ends = append(ends, uint32(len(xy)/2))
	}
	return xy, ends
}

func polygonXYEnds(poly orb.Polygon) ([]float64, []uint32) {
	runs := make([][]orb.Point, len(poly))
	for i, r := range poly {
		runs[i] = r
	}
	return xyEnds(runs)
}

// geometryFromFGB converts a FlatGeobuf geometry back to orb. Unsupported
// types yield nil.
func geometryFromFGB(g *flattypes.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}

	switch g.Type() {
	case flattypes.GeometryTypePoint:
		if g.XyLength() < 2 {
			return nil
		}
		return orb.Point{g.Xy(0), g.Xy(1)}

	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(pointsFromXY(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeLineString:
		return orb.LineString(pointsFromXY(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeMultiLineString:
		runs := runsFromXYEnds(g)
		mls := make(orb.MultiLineString, len(runs))
		for i, r := range runs {
			mls[i] = r
		}
		return mls

	case flattypes.GeometryTypePolygon:
		return polygonFromFGB(g)

	case flattypes.GeometryTypeMultiPolygon:
		if g.PartsLength() == 0 {
			return orb.MultiPolygon{polygonFromFGB(g)}
		}
		mp := make(orb.MultiPolygon, 0, g.PartsLength())
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if poly := polygonFromFGB(&part); len(poly) > 0 {
					mp = append(mp, poly)
				}
			}
		}
		return mp

	case flattypes.GeometryTypeGeometryCollection:
		coll := make(orb.Collection, 0, g.PartsLength())
		for i := 0; i < g.PartsLength(); i++ {
			var part flattypes.Geometry
			if g.Parts(&part, i) {
				if child := geometryFromFGB(&part); child != nil {
					coll = append(coll, child)
				}
			}
		}
		return coll
	}
	return nil
}

func polygonFromFGB(g *flattypes.Geometry) orb.Polygon {
	runs := runsFromXYEnds(g)
	poly := make(orb.Polygon, len(runs))
	for i, r := range runs {
		poly[i] = r
	}
	return poly
}

// runsFromXYEnds splits the coordinate array at the ends offsets. A
// geometry without ends is a single run.
func runsFromXYEnds(g *flattypes.Geometry) [][]orb.Point {
	total := g.XyLength() / 2
	if total == 0 {
		return nil
	}
	if g.EndsLength() == 0 {
		return [][]orb.Point{pointsFromXY(g, 0, total)}
	}
	runs := make([][]orb.Point, 0, g.EndsLength())
	start := 0
	for i := 0; i < g.EndsLength(); i++ {
		end := min(int(g.Ends(i)), total)
		runs = append(runs, pointsFromXY(g, start, end))
		start = end
	}
	return runs
}

func pointsFromXY(g *flattypes.Geometry, start, end int) []orb.Point {
	pts := make([]orb.Point, 0, max(end-start, 0))
	for i := start; i < end; i++ {
		pts = append(pts, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return pts
}
