// Package shapefile provides ESRI Shapefile support for the orb geometry library.
// It reads and writes the .shp/.shx/.dbf triad as a stream of features with
// orb.Geometry values and positional dBase attributes, from local paths or
// http(s) URLs.
package shapefile

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/text/encoding"
)

// Common errors returned by this package.
var (
	ErrBadFormat         = errors.New("shapefile: malformed file")
	ErrTruncated         = fmt.Errorf("%w: truncated data", ErrBadFormat)
	ErrInconsistent      = errors.New("shapefile: shp and dbf record counts differ")
	ErrMixedShapes       = fmt.Errorf("%w: mixed shape types", ErrBadFormat)
	ErrUnsupportedType   = errors.New("shapefile: attribute type has no dbf mapping")
	ErrPropertyMismatch  = errors.New("shapefile: attribute value does not match column type")
	ErrUnsupportedShape  = errors.New("shapefile: unsupported shape type")
	ErrGeometryMismatch  = errors.New("shapefile: geometry does not match shape type")
	ErrNoShapeType       = errors.New("shapefile: cannot determine shape type")
	ErrBadExtension      = errors.New("shapefile: no .shp, .shx or .dbf extension")
	ErrUnsupportedScheme = errors.New("shapefile: unsupported url scheme")
	ErrClosed            = errors.New("shapefile: session closed")
	ErrNilGeometry       = errors.New("shapefile: nil geometry")
	ErrNoIndex           = errors.New("shapefile: flatgeobuf file has no spatial index")
)

// PartError records which member of the triad failed an I/O operation.
type PartError struct {
	Part string // "shp", "shx", "dbf" or "prj"
	Op   string
	Err  error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("shapefile: %s %s: %v", e.Op, e.Part, e.Err)
}

func (e *PartError) Unwrap() error { return e.Err }

func partErr(part, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PartError{Part: part, Op: op, Err: err}
}

// ShapeType is the geometry kind declared in a shapefile header and in every record.
type ShapeType int32

const (
	NullShape   ShapeType = 0
	Point       ShapeType = 1
	PolyLine    ShapeType = 3
	Polygon     ShapeType = 5
	MultiPoint  ShapeType = 8
	PointZ      ShapeType = 11
	PolyLineZ   ShapeType = 13
	PolygonZ    ShapeType = 15
	MultiPointZ ShapeType = 18
	PointM      ShapeType = 21
	PolyLineM   ShapeType = 23
	PolygonM    ShapeType = 25
	MultiPointM ShapeType = 28
	MultiPatch  ShapeType = 31
)

var shapeTypeNames = map[ShapeType]string{
	NullShape:   "Null",
	Point:       "Point",
	PolyLine:    "PolyLine",
	Polygon:     "Polygon",
	MultiPoint:  "MultiPoint",
	PointZ:      "PointZ",
	PolyLineZ:   "PolyLineZ",
	PolygonZ:    "PolygonZ",
	MultiPointZ: "MultiPointZ",
	PointM:      "PointM",
	PolyLineM:   "PolyLineM",
	PolygonM:    "PolygonM",
	MultiPointM: "MultiPointM",
	MultiPatch:  "MultiPatch",
}

func (t ShapeType) String() string {
	if s, ok := shapeTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ShapeType(%d)", int32(t))
}

// Valid reports whether t is one of the types defined by the format.
func (t ShapeType) Valid() bool {
	_, ok := shapeTypeNames[t]
	return ok
}

// HasZ reports whether records of this type carry a Z array.
func (t ShapeType) HasZ() bool {
	switch t {
	case PointZ, PolyLineZ, PolygonZ, MultiPointZ, MultiPatch:
		return true
	}
	return false
}

// HasM reports whether records of this type carry an M array. Z types carry
// an optional M array as well.
func (t ShapeType) HasM() bool {
	switch t {
	case PointM, PolyLineM, PolygonM, MultiPointM:
		return true
	}
	return t.HasZ()
}

// Base strips the Z/M variant, e.g. PolygonZ -> Polygon.
func (t ShapeType) Base() ShapeType {
	switch t {
	case PointZ, PointM:
		return Point
	case PolyLineZ, PolyLineM:
		return PolyLine
	case PolygonZ, PolygonM:
		return Polygon
	case MultiPointZ, MultiPointM:
		return MultiPoint
	}
	return t
}

// IsMulti reports whether the type is an aggregate family whose scalar
// geometries are wrapped into single-element collections on write.
func (t ShapeType) IsMulti() bool {
	switch t.Base() {
	case PolyLine, Polygon, MultiPoint, MultiPatch:
		return true
	}
	return false
}

// CRS represents a coordinate reference system stored in the .prj companion.
type CRS struct {
	Code        int    // EPSG code (e.g., 4326 for WGS84)
	Name        string // CRS name
	Description string // CRS description
	WKT         string // Well-Known Text representation
}

const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// WGS84 returns the standard WGS84 CRS (EPSG:4326).
func WGS84() *CRS {
	return &CRS{
		Code: 4326,
		Name: "WGS 84",
		WKT:  wgs84WKT,
	}
}

// IDFunc produces a feature identifier from the type name and the 1-based
// record ordinal.
type IDFunc func(typeName string, ordinal int) string

// DefaultIDFunc returns typeName + "." + ordinal.
func DefaultIDFunc(typeName string, ordinal int) string {
	return fmt.Sprintf("%s.%d", typeName, ordinal)
}

// Options configures shapefile access.
type Options struct {
	Charset     encoding.Encoding // dbf text encoding; nil picks one from the language driver byte
	IDFunc      IDFunc            // Feature identifier strategy (default: DefaultIDFunc)
	SkipDeleted bool              // Drop rows flagged deleted in the dbf
	BufferSize  int               // Read buffer capacity in bytes
	HTTPClient  *http.Client      // Client for http(s) URLs
	TempDir     string            // Directory for buffered writes of remote targets
	CRS         *CRS              // Written to the .prj companion when set
	Logger      *slog.Logger      // Diagnostics (default: slog.Default())
}

const defaultBufferSize = 16 * 1024

// DefaultOptions returns default options for opening shapefiles.
func DefaultOptions() *Options {
	return &Options{
		IDFunc:     DefaultIDFunc,
		BufferSize: defaultBufferSize,
		HTTPClient: http.DefaultClient,
		Logger:     slog.Default(),
	}
}

// withDefaults fills zero fields from DefaultOptions without mutating o.
func (o *Options) withDefaults() *Options {
	d := DefaultOptions()
	if o == nil {
		return d
	}
	out := *o
	if out.IDFunc == nil {
		out.IDFunc = d.IDFunc
	}
	if out.BufferSize <= 0 {
		out.BufferSize = d.BufferSize
	}
	if out.HTTPClient == nil {
		out.HTTPClient = d.HTTPClient
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	return &out
}
