package chatapp

import (
	"crypto/sha1"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
)

// StaticFS serves a single-page frontend build: unknown paths fall back to
// index.html so client-side routes resolve, and every file gets a
// content-hash etag so browsers revalidate cheaply.
type StaticFS struct {
	http.FileSystem
	etags        map[string]string
	fallbackFile string
}

// Open returns the file if found, otherwise the fallback file.
func (sfs StaticFS) Open(name string) (http.File, error) {
	f, err := sfs.FileSystem.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return sfs.FileSystem.Open(sfs.fallbackFile)
		}
		return nil, err
	}
	return f, nil
}

func NewStaticFS(fsys fs.FS, fallback string) (*StaticFS, error) {
	if _, err := fsys.Open(fallback); err != nil {
		return nil, fmt.Errorf("opening fallback file %s: %w", fallback, err)
	}

	etags, err := calculateEtags(fsys)
	if err != nil {
		return nil, fmt.Errorf("calculating etags: %w", err)
	}

	return &StaticFS{FileSystem: http.FS(fsys), etags: etags, fallbackFile: fallback}, nil
}

func calculateEtags(fsys fs.FS) (map[string]string, error) {
	etags := make(map[string]string)
	hasher := sha1.New()
	return etags, fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := fsys.Open(p)
		if err != nil {
			return fmt.Errorf("opening %s: %w", p, err)
		}
		defer f.Close()
		defer hasher.Reset()
		if _, err := io.Copy(hasher, f); err != nil {
			return fmt.Errorf("hashing %s: %w", p, err)
		}
		etags[p] = fmt.Sprintf("%x", hasher.Sum(nil))
		return nil
	})
}

func (sfs StaticFS) EtagMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if len(path) > 0 && path[0] == '/' {
				path = path[1:]
			}
			if _, ok := sfs.etags[path]; !ok {
				path = sfs.fallbackFile
			}

			etag := sfs.etags[path]
			if matched := r.Header.Get("If-None-Match"); matched != "" && matched == etag {
				w.WriteHeader(http.StatusNotModified)
				return
			}

			w.Header().Set("Etag", etag)
			next.ServeHTTP(w, r)
		})
	}
}
