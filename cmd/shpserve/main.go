package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	shapefile "github.com/tingold/orb-shapefile"
)

type City struct {
	Name       string
	Country    string
	Longitude  float64
	Latitude   float64
	Population int
	Capital    bool
}

var cities = []City{
	{"Tokyo", "Japan", 139.6917, 35.6895, 13960000, true},
	{"New York", "United States", -73.9857, 40.7484, 8336817, false},
	{"London", "United Kingdom", -0.1276, 51.5074, 8982000, true},
	{"Paris", "France", 2.3522, 48.8566, 2161000, true},
	{"Beijing", "China", 116.4074, 39.9042, 21540000, true},
	{"Moscow", "Russia", 37.6173, 55.7558, 12615000, true},
	{"São Paulo", "Brazil", -46.6333, -23.5505, 12300000, false},
	{"Mumbai", "India", 72.8777, 19.0760, 12400000, false},
	{"Los Angeles", "United States", -118.2437, 34.0522, 3971883, false},
	{"Shanghai", "China", 121.4737, 31.2304, 24870000, false},
	{"Istanbul", "Turkey", 28.9784, 41.0082, 15520000, false},
	{"Buenos Aires", "Argentina", -58.3816, -34.6037, 3075646, true},
	{"Cairo", "Egypt", 31.2357, 30.0444, 10230000, true},
	{"Sydney", "Australia", 151.2093, -33.8688, 5312000, false},
	{"Berlin", "Germany", 13.4050, 52.5200, 3669491, true},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	file := flag.String("file", "", "shapefile path or URL to serve; empty seeds a demo triad of world cities")
	debug := flag.Bool("debug", false, "log debug messages")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	location := *file
	if location == "" {
		location = filepath.Join(os.TempDir(), "world_cities.shp")
		if err := seedCities(location, logger); err != nil {
			logger.Error("failed to seed demo shapefile", "err", err)
			os.Exit(1)
		}
	}

	opts := shapefile.DefaultOptions()
	opts.Logger = logger
	opts.CRS = shapefile.WGS84()
	store, err := shapefile.Open(location, opts)
	if err != nil {
		logger.Error("failed to open shapefile", "location", location, "err", err)
		os.Exit(1)
	}
	// Readers share the triad; an import replaces it exclusively.
	var mu sync.RWMutex

	http.HandleFunc("/data.fgb", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		var buf bytes.Buffer
		err := store.ExportFlatGeobuf(&buf, queryFrom(r), &shapefile.ExportOptions{
			Description:  "served by shpserve",
			IncludeIndex: true,
		})
		if err != nil {
			fail(w, logger, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write(buf.Bytes())
	})

	http.HandleFunc("/data.geojson", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		fc, err := store.ReadAll(queryFrom(r))
		if err != nil {
			fail(w, logger, err)
			return
		}
		writeJSON(w, fc.GeoJSON())
	})

	http.HandleFunc("/schema", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		ft, err := store.Schema()
		if err != nil {
			fail(w, logger, err)
			return
		}
		bound, err := store.Bounds()
		if err != nil {
			fail(w, logger, err)
			return
		}
		count, err := store.Count()
		if err != nil {
			fail(w, logger, err)
			return
		}
		attrs := make([]map[string]interface{}, 0, len(ft.Attributes))
		for _, at := range ft.Attributes {
			attrs = append(attrs, map[string]interface{}{
				"name":   at.Name,
				"kind":   at.Kind.String(),
				"length": at.Length,
			})
		}
		writeJSON(w, map[string]interface{}{
			"name":       ft.Name,
			"shapeType":  ft.ShapeType().String(),
			"count":      count,
			"bbox":       []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
			"attributes": attrs,
		})
	})

	// POST a FlatGeobuf file to replace the served shapefile.
	http.HandleFunc("/import", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST a FlatGeobuf file", http.StatusMethodNotAllowed)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			fail(w, logger, err)
			return
		}
		fc, err := shapefile.ReadFlatGeobuf(data, store.TypeName())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		err = store.WriteFeatures(fc)
		mu.Unlock()
		if err != nil {
			fail(w, logger, err)
			return
		}
		logger.Info("imported flatgeobuf", "features", fc.Len())
		w.WriteHeader(http.StatusNoContent)
	})

	logger.Info("server starting", "addr", *addr, "shapefile", location)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// queryFrom reads ?props=a,b into a projection.
func queryFrom(r *http.Request) *shapefile.Query {
	q := shapefile.AllProperties()
	if props := r.URL.Query().Get("props"); props != "" {
		q.PropertyNames = append([]string{shapefile.GeometryName}, strings.Split(props, ",")...)
	}
	return q
}

func fail(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("request failed", "err", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(v)
}

func seedCities(path string, logger *slog.Logger) error {
	opts := shapefile.DefaultOptions()
	opts.Logger = logger
	opts.CRS = shapefile.WGS84()
	store, err := shapefile.Open(path, opts)
	if err != nil {
		return err
	}
	ft := shapefile.NewFeatureType("world_cities", shapefile.Point,
		shapefile.AttributeType{Name: "name", Kind: shapefile.KindString, Length: 32},
		shapefile.AttributeType{Name: "country", Kind: shapefile.KindString, Length: 32},
		shapefile.AttributeType{Name: "population", Kind: shapefile.KindInteger},
		shapefile.AttributeType{Name: "capital", Kind: shapefile.KindBoolean},
	)
	fc := shapefile.NewFeatureCollection(ft)
	for _, city := range cities {
		fc.Add(&shapefile.Feature{
			Geometry:   orb.Point{city.Longitude, city.Latitude},
			Attributes: []interface{}{city.Name, city.Country, city.Population, city.Capital},
		})
	}
	return store.WriteFeatures(fc)
}
