package ooo

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/document"
	"github.com/local/docbroker/internal/filetype"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/mimemap"
)

// Factory builds per-request handlers that share one bridge.
type Factory struct {
	Bridge  *Bridge
	Table   *mimemap.Table
	BaseDir string
	// Zip returns the whole output directory as a zip archive.
	Zip bool
}

// New stages data as a working document in format.
func (f *Factory) New(data []byte, format string) (*Handler, error) {
	format = mimemap.Normalize(format)
	if len(data) == 0 {
		return nil, handler.InputError(format, "", "empty document")
	}
	doc, err := document.New(f.BaseDir, data, format)
	if err != nil {
		return nil, handler.FatalBackendError(format, "", "stage working document", err)
	}
	return &Handler{bridge: f.Bridge, table: f.Table, doc: doc, format: format, zip: f.Zip}, nil
}

// NewHandler is New behind the handler contract.
func (f *Factory) NewHandler(data []byte, format string) (handler.Handler, error) {
	h, err := f.New(data, format)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// AllowedConversionFormatList lists the formats a mimetype converts to.
func (f *Factory) AllowedConversionFormatList(mimetype string) []handler.Format {
	return f.Table.AllowedFormats(mimetype)
}

// CanConvert reports whether the office backend handles src > dst.
func (f *Factory) CanConvert(src, dst string) bool {
	return f.Table.CanConvert(src, dst)
}

// Handler runs one operation against one working document. Every method
// trashes the document before returning.
type Handler struct {
	bridge *Bridge
	table  *mimemap.Table
	doc    *document.Document
	format string
	zip    bool
}

var _ handler.Handler = (*Handler)(nil)

// Convert converts the document to dst.
func (h *Handler) Convert(ctx context.Context, dst string, params map[string]string) ([]byte, error) {
	defer h.doc.Trash()
	dst = mimemap.Normalize(dst)
	p, err := h.convertParams(dst, params)
	if err != nil {
		return nil, err
	}
	out, err := h.bridge.Call(ctx, h.doc, h.format, dst, []string{FeatureConvert}, p)
	if err != nil {
		return nil, err
	}
	return h.collect(out, dst)
}

// ConvertWithMetadata converts to dst and applies metadata in the same
// helper invocation.
func (h *Handler) ConvertWithMetadata(ctx context.Context, dst string, params map[string]string, md handler.Metadata) ([]byte, error) {
	defer h.doc.Trash()
	dst = mimemap.Normalize(dst)
	p, err := h.convertParams(dst, params)
	if err != nil {
		return nil, err
	}
	if p["metadata"], err = encodeJSON(md.Without(handler.DataKey)); err != nil {
		return nil, handler.InputError(h.format, dst, "encode metadata: "+err.Error())
	}
	out, err := h.bridge.Call(ctx, h.doc, h.format, dst, []string{FeatureSetMetadata, FeatureConvert}, p)
	if err != nil {
		return nil, err
	}
	return h.collect(out, dst)
}

// GetMetadata reads the document metadata. With base the document is also
// converted to its OpenDocument format and returned under the Data key.
func (h *Handler) GetMetadata(ctx context.Context, base bool) (handler.Metadata, error) {
	defer h.doc.Trash()
	features := []string{FeatureGetMetadata}
	params := map[string]string{"source_format": h.format}
	dst := ""
	if base {
		dst = h.table.BaseFormat(h.format)
		if dst == "" {
			return nil, handler.UnsupportedFormatError(h.format, "", "no base format for this document type")
		}
		features = append(features, FeatureConvert)
		params["destination_format"] = dst
		params["mimemapper"] = encodeSnapshot(h.table)
	}

	out, err := h.bridge.Call(ctx, h.doc, h.format, dst, features, params)
	if err != nil {
		return nil, err
	}
	md := handler.Metadata{}
	if err := decodeJSON(out, &md); err != nil {
		return nil, handler.FatalBackendError(h.format, dst, "unreadable metadata", err)
	}

	path := md.String(handler.DataKey)
	md[handler.DataKey] = ""
	if base && path != "" {
		if err := h.doc.Reload(path); err != nil {
			return nil, handler.FatalBackendError(h.format, dst, "reload base document", err)
		}
		data, err := h.doc.Content(false)
		if err != nil {
			return nil, handler.FatalBackendError(h.format, dst, "read base document", err)
		}
		md[handler.DataKey] = string(data)
	}
	return md, nil
}

// SetMetadata writes metadata into the document and returns the result.
func (h *Handler) SetMetadata(ctx context.Context, md handler.Metadata) ([]byte, error) {
	defer h.doc.Trash()
	enc, err := encodeJSON(md.Without(handler.DataKey))
	if err != nil {
		return nil, handler.InputError(h.format, h.format, "encode metadata: "+err.Error())
	}
	params := map[string]string{"metadata": enc, "source_format": h.format}
	out, err := h.bridge.Call(ctx, h.doc, h.format, h.format, []string{FeatureSetMetadata}, params)
	if err != nil {
		return nil, err
	}
	// the helper saves in place and prints a status token, or prints the
	// path it saved to
	if path := strings.TrimSpace(string(out)); strings.HasPrefix(path, "/") || strings.HasPrefix(path, "file://") {
		if err := h.doc.Reload(path); err != nil {
			return nil, handler.FatalBackendError(h.format, h.format, "reload document", err)
		}
	}
	data, err := h.doc.Content(false)
	if err != nil {
		return nil, handler.FatalBackendError(h.format, h.format, "read document", err)
	}
	return data, nil
}

func (h *Handler) convertParams(dst string, params map[string]string) (map[string]string, error) {
	if !h.table.CanConvert(h.format, dst) {
		return nil, handler.UnsupportedFormatError(h.format, dst, "no office filter connects these formats")
	}
	p := make(map[string]string, len(params)+3)
	for k, v := range params {
		p[k] = v
	}
	p["source_format"] = h.format
	p["destination_format"] = dst
	p["mimemapper"] = encodeSnapshot(h.table)
	return p, nil
}

// collect adopts the helper's output path and reads the result.
func (h *Handler) collect(stdout []byte, dst string) ([]byte, error) {
	if err := h.doc.Reload(string(stdout)); err != nil {
		return nil, handler.FatalBackendError(h.format, dst, unreadableOutput, err)
	}
	data, err := h.doc.Content(h.zip)
	if err != nil {
		return nil, handler.FatalBackendError(h.format, dst, unreadableOutput, err)
	}
	if dst == "pdf" && !h.zip {
		pages, err := filetype.PDFPageCount(data)
		if err != nil {
			return nil, handler.FatalBackendError(h.format, dst, "converter produced an unreadable pdf", err)
		}
		log.Debug().Int("pages", pages).Str("src", h.format).Msg("pdf output verified")
	}
	return data, nil
}

func encodeSnapshot(t *mimemap.Table) string {
	return base64Encode(t.Snapshot())
}
