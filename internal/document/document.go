// Package document stages one document instance on local storage for the
// duration of a single conversion.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
)

// ErrTrashed is returned when a trashed document is read.
var ErrTrashed = errors.New("document already trashed")

// ErrOutsideDir is returned by Reload for a path Trash would not remove.
var ErrOutsideDir = errors.New("path outside working directory")

// Document is a working copy of one document under a unique directory.
type Document struct {
	mu       sync.Mutex
	dir      string
	path     string
	origPath string
	original []byte
	format   string
	trashed  bool
}

// New writes data to <baseDir>/<uuid>/<uuid>.<format>.
func New(baseDir string, data []byte, format string) (*Document, error) {
	id := uuid.NewString()
	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}
	name := id
	if format != "" {
		name += "." + strings.TrimPrefix(format, ".")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write working copy: %w", err)
	}
	orig := make([]byte, len(data))
	copy(orig, data)
	return &Document{
		dir:      dir,
		path:     path,
		origPath: path,
		original: orig,
		format:   format,
	}, nil
}

// URL returns the current on-disk location.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Dir returns the document's private directory.
func (d *Document) Dir() string { return d.dir }

// Format returns the source format tag.
func (d *Document) Format() string { return d.format }

// Reload adopts path as the document's location, discarding the prior file.
// path must lie inside the document's directory.
func (d *Document) Reload(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trashed {
		return ErrTrashed
	}
	path = strings.TrimPrefix(strings.TrimSpace(path), "file://")
	if path == "" {
		return errors.New("reload: empty path")
	}
	if !d.contains(path) {
		return fmt.Errorf("reload %s: %w", path, ErrOutsideDir)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if path != d.path {
		if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", d.path).Msg("remove previous working copy")
		}
		d.path = path
	}
	return nil
}

func (d *Document) contains(path string) bool {
	dir, err := filepath.Abs(d.dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RestoreOriginal rewrites the initial bytes at the initial path and adopts it.
func (d *Document) RestoreOriginal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trashed {
		return ErrTrashed
	}
	if d.path != d.origPath {
		if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", d.path).Msg("remove working copy before restore")
		}
	}
	if err := os.WriteFile(d.origPath, d.original, 0o644); err != nil {
		return fmt.Errorf("restore original: %w", err)
	}
	d.path = d.origPath
	return nil
}

// Content returns the current file, or a zip of the whole working directory
// when zip is true.
func (d *Document) Content(zipped bool) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trashed {
		return nil, ErrTrashed
	}
	if !zipped {
		return os.ReadFile(d.path)
	}
	exclude := ""
	if d.path != d.origPath {
		exclude = d.origPath
	}
	return zipDir(filepath.Dir(d.path), exclude)
}

// Trash removes the working directory. Safe to call more than once.
func (d *Document) Trash() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.trashed {
		return
	}
	d.trashed = true
	if err := os.RemoveAll(d.dir); err != nil {
		log.Warn().Err(err).Str("dir", d.dir).Msg("trash working dir")
	}
}

// zipDir archives every regular file below root, skipping exclude.
func zipDir(root, exclude string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || path == exclude {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return AddToZip(zw, filepath.ToSlash(rel), path)
	})
	if err != nil {
		return nil, fmt.Errorf("zip working dir: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AddToZip copies the file at path into zw as name.
func AddToZip(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
