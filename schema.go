package shapefile

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// GeometryName is the name of the geometry attribute of every feature type.
const GeometryName = "the_geom"

// AttributeType describes one attribute of a FeatureType.
type AttributeType struct {
	Name      string
	Kind      Kind
	Length    int       // dbf field width; 0 picks the default for Kind
	Decimals  int       // dbf decimal count for floats
	ShapeType ShapeType // geometry attribute only
}

// FeatureType is the ordered schema of a dataset. Attributes[0] is the
// geometry attribute; Attributes[i] for i > 0 is dbf column i-1.
type FeatureType struct {
	Name       string
	Attributes []AttributeType
}

// NewFeatureType builds a feature type with a geometry attribute of shape
// type t followed by attrs.
func NewFeatureType(name string, t ShapeType, attrs ...AttributeType) *FeatureType {
	ft := &FeatureType{Name: name}
	ft.Attributes = append(ft.Attributes, AttributeType{Name: GeometryName, Kind: KindGeometry, ShapeType: t})
	ft.Attributes = append(ft.Attributes, attrs...)
	return ft
}

// ShapeType returns the declared shape type of the geometry attribute.
func (ft *FeatureType) ShapeType() ShapeType {
	if len(ft.Attributes) == 0 {
		return NullShape
	}
	return ft.Attributes[0].ShapeType
}

// Index returns the position of the named attribute, or -1. Names are
// matched case-insensitively, as dbf field names are.
func (ft *FeatureType) Index(name string) int {
	for i, at := range ft.Attributes {
		if strings.EqualFold(at.Name, name) {
			return i
		}
	}
	return -1
}

// AttributeNames returns the names of the non-geometry attributes.
func (ft *FeatureType) AttributeNames() []string {
	names := make([]string, 0, len(ft.Attributes))
	for _, at := range ft.Attributes[1:] {
		names = append(names, at.Name)
	}
	return names
}

// DeriveFeatureType builds the feature type of a triad from its headers.
func DeriveFeatureType(name string, h *DbaseHeader, t ShapeType) *FeatureType {
	attrs := make([]AttributeType, 0, len(h.Columns))
	for _, c := range h.Columns {
		attrs = append(attrs, attributeFor(c))
	}
	return NewFeatureType(name, t, attrs...)
}

func attributeFor(c Column) AttributeType {
	at := AttributeType{Name: c.Name, Length: int(c.Length), Decimals: int(c.Decimals)}
	switch c.Type {
	case 'N', 'F':
		at.Kind = KindFloat
		if c.Type == 'N' && c.Decimals == 0 {
			at.Kind = KindInteger
		}
	case 'L':
		at.Kind = KindBoolean
	case 'D':
		at.Kind = KindDate
	default:
		at.Kind = KindString
	}
	return at
}

// projection maps output attribute slots to dbf column indexes; -1 marks a
// requested name with no column, which reads as nil.
type projection struct {
	columns  []int
	geometry bool
	names    []string
}

// project builds the projection for a list of requested attribute names.
// nil names select every attribute in file order.
func project(ft *FeatureType, names []string) projection {
	if names == nil {
		p := projection{geometry: true, names: ft.AttributeNames()}
		p.columns = make([]int, len(ft.Attributes)-1)
		for i := range p.columns {
			p.columns[i] = i
		}
		return p
	}
	p := projection{columns: make([]int, 0, len(names)), names: make([]string, 0, len(names))}
	for _, name := range names {
		i := ft.Index(name)
		if i == 0 {
			p.geometry = true
			continue
		}
		p.names = append(p.names, name)
		if i < 0 {
			p.columns = append(p.columns, -1)
			continue
		}
		p.columns = append(p.columns, i-1)
	}
	return p
}

// Query selects features and the attributes they carry.
type Query struct {
	// Filter, when set, drops features for which it returns false.
	Filter func(*Feature) bool
	// PropertyNames lists the attributes to return, in order. nil returns
	// all of them. The geometry is only decoded when PropertyNames is nil
	// or names the geometry attribute.
	PropertyNames []string
}

// AllProperties returns a query for every feature with every attribute.
func AllProperties() *Query {
	return &Query{}
}

// Feature is one record of a shapefile.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Z, M       []float64 // per-vertex values, see Shape
	Attributes []interface{}
}

// Attribute returns the value of the named attribute against ft, or nil.
func (f *Feature) Attribute(ft *FeatureType, name string) interface{} {
	i := ft.Index(name)
	if i <= 0 || i-1 >= len(f.Attributes) {
		return nil
	}
	return f.Attributes[i-1]
}

// GeoJSON converts the feature using names for its attribute keys.
func (f *Feature) GeoJSON(names []string) *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = f.ID
	for i, name := range names {
		if i < len(f.Attributes) {
			gf.Properties[name] = f.Attributes[i]
		}
	}
	return gf
}

// FeatureCollection is an in-memory list of features sharing one type.
type FeatureCollection struct {
	Type     *FeatureType
	Features []*Feature
	names    []string // attribute keys when the collection was projected
}

// NewFeatureCollection returns an empty collection of type ft.
func NewFeatureCollection(ft *FeatureType) *FeatureCollection {
	return &FeatureCollection{Type: ft}
}

// Add appends a feature.
func (fc *FeatureCollection) Add(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// Len returns the number of features.
func (fc *FeatureCollection) Len() int {
	return len(fc.Features)
}

// Bound returns the union of the feature bounds.
func (fc *FeatureCollection) Bound() orb.Bound {
	var (
		b     orb.Bound
		found bool
	)
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if !found {
			b, found = f.Geometry.Bound(), true
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// GeoJSON converts the collection.
func (fc *FeatureCollection) GeoJSON() *geojson.FeatureCollection {
	names := fc.names
	if names == nil && fc.Type != nil {
		names = fc.Type.AttributeNames()
	}
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		out.Append(f.GeoJSON(names))
	}
	return out
}

// InferFeatureType derives a feature type from a collection. The shape type
// comes from the first feature with a geometry; attribute kinds come from
// the values, and string widths are the longest value seen.
func InferFeatureType(name string, features []*Feature, names []string) (*FeatureType, error) {
	var t ShapeType
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		st, err := shapeTypeOf(f)
		if err != nil {
			return nil, err
		}
		t = st
		break
	}
	if t == NullShape {
		return nil, fmt.Errorf("%w: %d features without geometry", ErrNoShapeType, len(features))
	}

	attrs := make([]AttributeType, len(names))
	seen := make([]bool, len(names))
	for i, n := range names {
		attrs[i] = AttributeType{Name: n, Kind: KindString}
	}
	for _, f := range features {
		if f == nil {
			continue
		}
		for i := range names {
			if i >= len(f.Attributes) || f.Attributes[i] == nil {
				continue
			}
			v := f.Attributes[i]
			k := kindOf(v)
			if !seen[i] {
				attrs[i].Kind, seen[i] = k, true
			} else {
				attrs[i].Kind = promoteKind(attrs[i].Kind, k)
			}
			attrs[i].Length = max(attrs[i].Length, textLength(v))
		}
	}
	for i := range attrs {
		if attrs[i].Kind != KindString {
			attrs[i].Length = 0
		} else if attrs[i].Length == 0 {
			attrs[i].Length = 1
		}
	}
	return NewFeatureType(name, t, attrs...), nil
}

// shapeTypeOf picks the shape type a feature's geometry is written as.
func shapeTypeOf(f *Feature) (ShapeType, error) {
	var t ShapeType
	switch f.Geometry.(type) {
	case orb.Point:
		t = Point
	case orb.MultiPoint:
		t = MultiPoint
	case orb.LineString, orb.MultiLineString:
		t = PolyLine
	case orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Bound:
		t = Polygon
	default:
		return NullShape, fmt.Errorf("%w: %s", ErrUnsupportedShape, f.Geometry.GeoJSONType())
	}
	switch {
	case f.Z != nil:
		return zVariant(t), nil
	case f.M != nil:
		return mVariant(t), nil
	}
	return t, nil
}

func zVariant(t ShapeType) ShapeType {
	switch t {
	case Point:
		return PointZ
	case PolyLine:
		return PolyLineZ
	case Polygon:
		return PolygonZ
	case MultiPoint:
		return MultiPointZ
	}
	return t
}

func mVariant(t ShapeType) ShapeType {
	switch t {
	case Point:
		return PointM
	case PolyLine:
		return PolyLineM
	case Polygon:
		return PolygonM
	case MultiPoint:
		return MultiPointM
	}
	return t
}
