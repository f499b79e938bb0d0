package x2t

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/local/docbroker/internal/document"
	"github.com/local/docbroker/internal/handler"
)

// Container layout of a bridged document.
const (
	bodyEntry     = "body.txt"
	metadataEntry = "metadata.json"
	mediaDir      = "media"
)

var zipMagic = []byte("PK\x03\x04")

func isZip(data []byte) bool { return bytes.HasPrefix(data, zipMagic) }

// config is the x2t job description.
type config struct {
	XMLName    xml.Name `xml:"root"`
	FileFrom   string   `xml:"m_sFileFrom"`
	FormatFrom int      `xml:"m_nFormatFrom"`
	FileTo     string   `xml:"m_sFileTo"`
	FormatTo   int      `xml:"m_nFormatTo"`
}

func writeConfig(path string, c config) (string, error) {
	body, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	text := xml.Header + string(body) + "\n"
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write x2t config: %w", err)
	}
	return text, nil
}

// unzip extracts archive into dir, refusing entries that escape it.
func unzip(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open container: %w", err)
	}
	for _, f := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("container entry %q escapes its directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extract(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extract(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// readMetadata loads metadata.json from an unpacked container. A missing
// file yields nil.
func readMetadata(dir string) (handler.Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metadataEntry))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return handler.DecodeMetadata(raw)
}

// pack zips body.txt, metadata.json and media/ from dir into path.
func pack(dir, path string) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{bodyEntry, metadataEntry} {
		src := filepath.Join(dir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := document.AddToZip(zw, name, src); err != nil {
			return err
		}
	}
	media := filepath.Join(dir, mediaDir)
	if _, err := os.Stat(media); err == nil {
		err := filepath.WalkDir(media, func(p string, e fs.DirEntry, err error) error {
			if err != nil || e.IsDir() {
				return err
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			return document.AddToZip(zw, filepath.ToSlash(rel), p)
		})
		if err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// replaceMetadata rewrites a container with a new metadata.json, keeping
// every other entry.
func replaceMetadata(data []byte, md handler.Metadata) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		if f.Name == metadataEntry {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return nil, err
		}
	}
	w, err := zw.Create(metadataEntry)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// containerMetadata reads metadata.json straight from an archive.
func containerMetadata(data []byte) (handler.Metadata, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != metadataEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return handler.DecodeMetadata(raw)
	}
	return handler.Metadata{}, nil
}
