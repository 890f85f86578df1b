package origin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/hupe1980/imgcache/internal/fs"
)

// File reads local files. It accepts plain paths and file:// URIs.
type File struct {
	fs fs.FileSystem
}

// NewFile creates a File fetcher on fsys (fs.Default if nil).
func NewFile(fsys fs.FileSystem) *File {
	if fsys == nil {
		fsys = fs.Default
	}
	return &File{fs: fsys}
}

// Fetch implements Fetcher.
func (f *File) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(uri, err)
	}

	path := uri
	if strings.HasPrefix(uri, "file:") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, &FetchError{Kind: KindIO, URI: uri, Err: err}
		}
		path = u.Path
	}

	file, err := f.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, StatusError(uri, http.StatusNotFound)
		}
		return nil, Classify(uri, err)
	}
	return file, nil
}
