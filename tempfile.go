package shapefile

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
)

// tempTriad is a scoped set of scratch files a write session streams into.
// release always removes whatever is left; commit moves the finished files
// over their targets first. Callers defer release right after creation.
type tempTriad struct {
	dir           string
	shp, shx, dbf *os.File
	prj           []byte
}

func newTempTriad(dir, name string) (*tempTriad, error) {
	d, err := os.MkdirTemp(dir, "."+name+"-*")
	if err != nil {
		return nil, err
	}
	t := &tempTriad{dir: d}
	for _, m := range []struct {
		f    **os.File
		ext  string
		part string
	}{
		{&t.shp, ".shp", "shp"},
		{&t.shx, ".shx", "shx"},
		{&t.dbf, ".dbf", "dbf"},
	} {
		f, err := os.Create(filepath.Join(d, name+m.ext))
		if err != nil {
			t.release()
			return nil, partErr(m.part, "create", err)
		}
		*m.f = f
	}
	return t, nil
}

func (t *tempTriad) files() []*os.File {
	return []*os.File{t.shp, t.shx, t.dbf}
}

// closeFiles closes the scratch files; closing twice is harmless.
func (t *tempTriad) closeFiles() error {
	var errs []error
	for _, f := range t.files() {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// commit publishes the scratch files to triad. Local targets are renamed
// into place; remote ones are uploaded with up. Without a projection a
// local .prj is removed.
func (t *tempTriad) commit(triad *Triad, up *transport) error {
	if err := t.closeFiles(); err != nil {
		return err
	}
	if t.prj != nil {
		if err := os.WriteFile(filepath.Join(t.dir, "member.prj"), t.prj, 0o644); err != nil {
			return partErr("prj", "write", err)
		}
	}
	type member struct {
		src  string
		dst  *url.URL
		part string
	}
	members := []member{
		{t.shp.Name(), triad.SHP, "shp"},
		{t.shx.Name(), triad.SHX, "shx"},
		{t.dbf.Name(), triad.DBF, "dbf"},
	}
	if t.prj != nil {
		members = append(members, member{filepath.Join(t.dir, "member.prj"), triad.PRJ, "prj"})
	}
	for _, m := range members {
		var err error
		if isLocal(m.dst) {
			err = os.Rename(m.src, localPath(m.dst))
		} else {
			err = up.put(m.dst, m.src)
		}
		if err != nil {
			return partErr(m.part, "commit", err)
		}
	}
	// A .prj left from an earlier write would describe the wrong data.
	if t.prj == nil && isLocal(triad.PRJ) {
		if err := os.Remove(localPath(triad.PRJ)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return partErr("prj", "remove", err)
		}
	}
	return nil
}

// release closes and deletes the scratch directory.
func (t *tempTriad) release() error {
	t.closeFiles()
	return os.RemoveAll(t.dir)
}
