// Package mimemap is the read-only registry of formats the office backend can
// import and export, keyed by extension and document type.
package mimemap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/local/docbroker/internal/handler"
)

// Document types understood by the office suite.
const (
	TextDocument         = "com.sun.star.text.TextDocument"
	SpreadsheetDocument  = "com.sun.star.sheet.SpreadsheetDocument"
	PresentationDocument = "com.sun.star.presentation.PresentationDocument"
	DrawingDocument      = "com.sun.star.drawing.DrawingDocument"
)

// Filter is one office import/export filter.
type Filter struct {
	Name         string
	Extension    string
	DocumentType string
	MimeType     string
	Title        string
	Import       bool
	Export       bool
}

type extType struct{ ext, docType string }

// Table is immutable once built; share it freely.
type Table struct {
	filters       []Filter
	docTypesByExt map[string][]string
	byExtType     map[extType]Filter
	mimeByExt     map[string]string
	extsByMime    map[string][]string
	snapshot      []byte
}

// Snapshot is the serialized form of the table handed to the UNO helper.
type Snapshot struct {
	DocTypeListByExtension map[string][]string `json:"doc_type_list_by_extension"`
	FilterList             [][3]string         `json:"filter_list"`
	MimetypeByFilterType   map[string]string   `json:"mimetype_by_filter_type"`
}

// New builds a table. Later filters for the same (extension, document type)
// pair are ignored.
func New(filters []Filter) (*Table, error) {
	t := &Table{
		docTypesByExt: map[string][]string{},
		byExtType:     map[extType]Filter{},
		mimeByExt:     map[string]string{},
		extsByMime:    map[string][]string{},
	}
	for _, f := range filters {
		f.Extension = Normalize(f.Extension)
		if f.Extension == "" || f.DocumentType == "" || f.Name == "" {
			return nil, fmt.Errorf("mimemap: incomplete filter %+v", f)
		}
		key := extType{f.Extension, f.DocumentType}
		if _, dup := t.byExtType[key]; dup {
			continue
		}
		t.filters = append(t.filters, f)
		t.byExtType[key] = f
		t.docTypesByExt[f.Extension] = append(t.docTypesByExt[f.Extension], f.DocumentType)
		if _, ok := t.mimeByExt[f.Extension]; !ok && f.MimeType != "" {
			t.mimeByExt[f.Extension] = f.MimeType
			t.extsByMime[f.MimeType] = append(t.extsByMime[f.MimeType], f.Extension)
		}
	}

	snap, err := json.Marshal(t.buildSnapshot())
	if err != nil {
		return nil, fmt.Errorf("mimemap: snapshot: %w", err)
	}
	t.snapshot = snap
	return t, nil
}

// MustNew is New for static tables.
func MustNew(filters []Filter) *Table {
	t, err := New(filters)
	if err != nil {
		panic(err)
	}
	return t
}

// Normalize lowercases an extension and strips a leading dot.
func Normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Has reports whether the extension is known.
func (t *Table) Has(ext string) bool {
	_, ok := t.docTypesByExt[Normalize(ext)]
	return ok
}

// DocumentTypes returns the document types ext participates in.
func (t *Table) DocumentTypes(ext string) []string {
	return append([]string(nil), t.docTypesByExt[Normalize(ext)]...)
}

// FilterName returns the filter for (ext, docType).
func (t *Table) FilterName(ext, docType string) (string, bool) {
	f, ok := t.byExtType[extType{Normalize(ext), docType}]
	return f.Name, ok
}

// MimeType returns the mimetype registered for ext, or "".
func (t *Table) MimeType(ext string) string {
	return t.mimeByExt[Normalize(ext)]
}

// Extensions returns the extensions registered for a mimetype.
func (t *Table) Extensions(mimetype string) []string {
	return append([]string(nil), t.extsByMime[strings.ToLower(strings.TrimSpace(mimetype))]...)
}

// CanConvert reports whether some document type imports src and exports dst.
func (t *Table) CanConvert(src, dst string) bool {
	src, dst = Normalize(src), Normalize(dst)
	for _, dt := range t.docTypesByExt[src] {
		in := t.byExtType[extType{src, dt}]
		if !in.Import {
			continue
		}
		if out, ok := t.byExtType[extType{dst, dt}]; ok && out.Export {
			return true
		}
	}
	return false
}

// AllowedFormats lists (mimetype, title) pairs reachable from a source
// mimetype, in table order and without duplicates.
func (t *Table) AllowedFormats(mimetype string) []handler.Format {
	var out []handler.Format
	seen := map[string]bool{}
	for _, ext := range t.Extensions(mimetype) {
		for _, dt := range t.docTypesByExt[ext] {
			if !t.byExtType[extType{ext, dt}].Import {
				continue
			}
			for _, f := range t.filters {
				if f.DocumentType != dt || !f.Export || f.MimeType == "" || seen[f.MimeType] {
					continue
				}
				seen[f.MimeType] = true
				out = append(out, handler.Format{MimeType: f.MimeType, Title: f.Title})
			}
		}
	}
	return out
}

// Snapshot returns the serialized table. The slice must not be modified.
func (t *Table) Snapshot() []byte { return t.snapshot }

func (t *Table) buildSnapshot() Snapshot {
	s := Snapshot{
		DocTypeListByExtension: map[string][]string{},
		MimetypeByFilterType:   map[string]string{},
	}
	exts := make([]string, 0, len(t.docTypesByExt))
	for ext, types := range t.docTypesByExt {
		s.DocTypeListByExtension[ext] = append([]string(nil), types...)
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		for _, dt := range t.docTypesByExt[ext] {
			f := t.byExtType[extType{ext, dt}]
			s.FilterList = append(s.FilterList, [3]string{ext, dt, f.Name})
			if f.MimeType != "" {
				s.MimetypeByFilterType[f.Name] = f.MimeType
			}
		}
	}
	return s
}

var baseFormats = map[string]string{
	TextDocument:         "odt",
	SpreadsheetDocument:  "ods",
	PresentationDocument: "odp",
	DrawingDocument:      "odg",
}

// BaseFormat returns the OpenDocument format of the first document type
// that imports ext, or "".
func (t *Table) BaseFormat(ext string) string {
	ext = Normalize(ext)
	for _, dt := range t.docTypesByExt[ext] {
		if t.byExtType[extType{ext, dt}].Import {
			return baseFormats[dt]
		}
	}
	return ""
}
