package shapefile

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// isLocal reports whether u names a file on the local file system.
func isLocal(u *url.URL) bool {
	return u.Scheme == "" || u.Scheme == "file"
}

func localPath(u *url.URL) string {
	if u.Scheme == "" {
		return u.Path
	}
	return filepath.FromSlash(u.Path)
}

// transport opens and stores triad members, locally or over http(s).
type transport struct {
	client *http.Client
}

// open returns a sequential reader for u. A missing member reports an
// error matching os.ErrNotExist for both local and remote locations.
func (t *transport) open(u *url.URL) (io.ReadCloser, error) {
	if isLocal(u) {
		f, err := os.Open(localPath(u))
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	resp, err := t.client.Get(u.String())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w", u.Redacted(), os.ErrNotExist)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u.Redacted(), resp.Status)
	}
	return resp.Body, nil
}

// put uploads the contents of the local file src to the remote location u.
func (t *transport) put(u *url.URL, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, u.String(), f)
	if err != nil {
		return err
	}
	req.ContentLength = fi.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("PUT %s: %s", u.Redacted(), resp.Status)
	}
	return nil
}

// readAll reads a small member such as the .prj file. It returns nil and no
// error when the member does not exist.
func (t *transport) readAll(u *url.URL) ([]byte, error) {
	rc, err := t.open(u)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
