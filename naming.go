package shapefile

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Triad holds the locations of the three members of a shapefile, plus the
// optional .prj companion.
type Triad struct {
	SHP, SHX, DBF, PRJ *url.URL
}

var companionExts = []string{".shp", ".shx", ".dbf"}

// Companions derives the triad from the location of any one member. The
// trailing extension is replaced keeping the case convention of the input:
// "roads.SHP" yields "roads.SHX" and "roads.DBF".
func Companions(raw string) (*Triad, error) {
	u, err := parseLocation(raw)
	if err != nil {
		return nil, err
	}
	p := u.Path
	if len(p) < 4 {
		return nil, fmt.Errorf("%w: %q", ErrBadExtension, raw)
	}
	ext := p[len(p)-4:]
	known := false
	for _, e := range companionExts {
		if strings.EqualFold(ext, e) {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrBadExtension, raw)
	}
	upper := ext == strings.ToUpper(ext)
	base := p[:len(p)-4]
	with := func(e string) *url.URL {
		if upper {
			e = strings.ToUpper(e)
		}
		c := *u
		c.Path = base + e
		c.RawPath = ""
		return &c
	}
	return &Triad{
		SHP: with(".shp"),
		SHX: with(".shx"),
		DBF: with(".dbf"),
		PRJ: with(".prj"),
	}, nil
}

// TypeName is the base file name without extension.
func (t *Triad) TypeName() string {
	name := path.Base(t.SHP.Path)
	return name[:len(name)-len(path.Ext(name))]
}

// parseLocation accepts plain paths as well as file and http(s) URLs.
func parseLocation(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty location", ErrBadExtension)
	}
	if !strings.Contains(raw, "://") {
		return &url.URL{Path: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file", "http", "https":
		return u, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}
