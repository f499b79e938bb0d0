// Package x2t bridges OnlyOffice formats (docy, xlsy, ppty) through the x2t
// binary converter, delegating every other step to the primary backend.
package x2t

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/document"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/procexec"
)

// Primary is the part of the primary backend a bridged conversion uses.
type Primary interface {
	handler.Handler
	ConvertWithMetadata(ctx context.Context, dst string, params map[string]string, md handler.Metadata) ([]byte, error)
}

// PrimaryFunc stages data for the primary backend.
type PrimaryFunc func(data []byte, format string) (Primary, error)

// Factory builds per-request handlers.
type Factory struct {
	Binary  string
	Env     map[string]string
	BaseDir string
	Runner  procexec.Runner
	Primary PrimaryFunc
	// PrimaryFormats lists what the primary backend converts a mimetype to.
	PrimaryFormats func(mimetype string) []handler.Format
	// PrimaryCanConvert reports whether the primary backend handles src > dst.
	PrimaryCanConvert func(src, dst string) bool
}

// New returns a handler for data in format.
func (f *Factory) New(data []byte, format string) (*Handler, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if len(data) == 0 {
		return nil, handler.InputError(format, "", "empty document")
	}
	return &Handler{f: f, data: data, format: format}, nil
}

// NewHandler is New behind the handler contract.
func (f *Factory) NewHandler(data []byte, format string) (handler.Handler, error) {
	h, err := f.New(data, format)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Handler converts one document, hopping between x2t and the primary
// backend as needed.
type Handler struct {
	f      *Factory
	data   []byte
	format string
}

var _ handler.Handler = (*Handler)(nil)

// Convert converts to dst. A bridged source is first converted to its OOXML
// equivalent and its container metadata is reapplied by the primary backend
// in the same call that produces the final format.
func (h *Handler) Convert(ctx context.Context, dst string, params map[string]string) ([]byte, error) {
	dst = strings.ToLower(strings.TrimPrefix(dst, "."))
	src, data := h.format, h.data
	var carried handler.Metadata

	if IsBridged(src) {
		open := openEquivalent[src]
		var err error
		if data, carried, err = h.transcode(ctx, data, src, open); err != nil {
			return nil, err
		}
		src = open
	}

	if IsBridged(dst) {
		open := openEquivalent[dst]
		if open != src {
			var err error
			if data, err = h.primaryConvert(ctx, data, src, open, params, carried); err != nil {
				return nil, err
			}
			src = open
		}
		out, _, err := h.transcode(ctx, data, src, dst)
		return out, err
	}

	if dst != src {
		return h.primaryConvert(ctx, data, src, dst, params, carried)
	}
	if len(carried) > 0 {
		p, err := h.f.Primary(data, src)
		if err != nil {
			return nil, err
		}
		return p.SetMetadata(ctx, carried)
	}
	return data, nil
}

func (h *Handler) primaryConvert(ctx context.Context, data []byte, src, dst string, params map[string]string, md handler.Metadata) ([]byte, error) {
	p, err := h.f.Primary(data, src)
	if err != nil {
		return nil, err
	}
	if len(md) > 0 {
		return p.ConvertWithMetadata(ctx, dst, params, md)
	}
	return p.Convert(ctx, dst, params)
}

// transcode runs one x2t job. For a bridged source it also returns the
// container metadata without internal fields.
func (h *Handler) transcode(ctx context.Context, data []byte, src, dst string) ([]byte, handler.Metadata, error) {
	inCode, okIn := formatCodes[src]
	outCode, okOut := formatCodes[dst]
	if !okIn || !okOut {
		return nil, nil, handler.UnsupportedFormatError(src, dst, "x2t does not convert between these formats")
	}
	log.Debug().Str("src", src).Str("dst", dst).Msg("x2t convert")

	doc, err := document.New(h.f.BaseDir, data, src)
	if err != nil {
		return nil, nil, handler.FatalBackendError(src, dst, "stage working document", err)
	}
	defer doc.Trash()

	root := doc.Dir()
	inputFile := doc.URL()
	finalFile := filepath.Join(root, "document."+dst)
	outputFile := finalFile
	var carried handler.Metadata

	if IsBridged(src) && isZip(data) {
		inputDir := filepath.Join(root, "input")
		if err := unzip(data, inputDir); err != nil {
			return nil, nil, handler.InputError(src, dst, err.Error())
		}
		inputFile = filepath.Join(inputDir, bodyEntry)
		md, err := readMetadata(inputDir)
		if err != nil {
			return nil, nil, handler.InputError(src, dst, "unreadable container metadata: "+err.Error())
		}
		if md != nil {
			carried = md.Without(internalFields...)
		}
	}
	outputDir := filepath.Join(root, "output")
	if IsBridged(dst) {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, nil, handler.FatalBackendError(src, dst, "create output dir", err)
		}
		outputFile = filepath.Join(outputDir, bodyEntry)
	}

	configPath := filepath.Join(root, "config.xml")
	configText, err := writeConfig(configPath, config{
		FileFrom:   inputFile,
		FormatFrom: inCode,
		FileTo:     outputFile,
		FormatTo:   outCode,
	})
	if err != nil {
		return nil, nil, handler.FatalBackendError(src, dst, "x2t config", err)
	}

	cmd := procexec.Command{Path: h.f.Binary, Args: []string{configPath}, Env: procexec.Environ(h.f.Env)}
	res, err := h.f.Runner.Run(ctx, cmd)
	if err != nil {
		return nil, nil, handler.FatalBackendError(src, dst, "x2t invocation failed", err)
	}
	if res.ExitCode != 0 {
		return nil, nil, handler.SubprocessError(src, dst, &handler.SubprocessExitError{
			Command:  cmd.Argv(),
			ExitCode: res.ExitCode,
			Stdout:   string(res.Stdout),
			Stderr:   string(res.Stderr),
			Config:   configText,
		})
	}

	if IsBridged(dst) {
		if err := h.writeOutputMetadata(ctx, data, src, outputDir); err != nil {
			return nil, nil, err
		}
		if err := pack(outputDir, finalFile); err != nil {
			return nil, nil, handler.FatalBackendError(src, dst, "pack container", err)
		}
	}

	if err := doc.Reload(finalFile); err != nil {
		return nil, nil, handler.FatalBackendError(src, dst, "x2t produced no output", err)
	}
	out, err := doc.Content(false)
	if err != nil {
		return nil, nil, handler.FatalBackendError(src, dst, "read x2t output", err)
	}
	return out, carried, nil
}

// writeOutputMetadata stores the source document's metadata next to a
// freshly written container body.
func (h *Handler) writeOutputMetadata(ctx context.Context, data []byte, src, dir string) error {
	p, err := h.f.Primary(data, src)
	if err != nil {
		return err
	}
	md, err := p.GetMetadata(ctx, false)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(md.Without(internalFields...))
	if err != nil {
		return handler.FatalBackendError(src, "", "encode container metadata", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataEntry), raw, 0o644); err != nil {
		return handler.FatalBackendError(src, "", "write container metadata", err)
	}
	return nil
}

// GetMetadata reads metadata.json of a bridged container. With base the
// document is also converted to its OpenDocument equivalent.
func (h *Handler) GetMetadata(ctx context.Context, base bool) (handler.Metadata, error) {
	if !IsBridged(h.format) || !isZip(h.data) {
		p, err := h.f.Primary(h.data, h.format)
		if err != nil {
			return nil, err
		}
		return p.GetMetadata(ctx, base)
	}

	md, err := containerMetadata(h.data)
	if err != nil {
		return nil, handler.InputError(h.format, "", err.Error())
	}
	md["MIMEType"] = bridgedMimeTypes[h.format]
	md[handler.DataKey] = ""
	if base {
		odf := openDocumentEquivalent[h.format]
		out, err := h.Convert(ctx, odf, nil)
		if err != nil {
			return nil, err
		}
		md["MIMEType"] = openMimeTypes[odf]
		md[handler.DataKey] = string(out)
	}
	return md, nil
}

// SetMetadata replaces metadata.json of a bridged container, keeping every
// other entry.
func (h *Handler) SetMetadata(ctx context.Context, md handler.Metadata) ([]byte, error) {
	if !IsBridged(h.format) || !isZip(h.data) {
		p, err := h.f.Primary(h.data, h.format)
		if err != nil {
			return nil, err
		}
		return p.SetMetadata(ctx, md)
	}
	out, err := replaceMetadata(h.data, md.Without(handler.DataKey))
	if err != nil {
		return nil, handler.InputError(h.format, h.format, err.Error())
	}
	return out, nil
}

// AllowedConversionFormatList lists the formats mimetype converts to. A
// bridged mimetype converts to whatever its OOXML equivalent converts to; an
// OOXML-reachable source also gains its bridged format.
func (f *Factory) AllowedConversionFormatList(mimetype string) []handler.Format {
	if b := bridgedFormat(mimetype); b != "" {
		return f.PrimaryFormats(openMimeTypes[openEquivalent[b]])
	}
	formats := f.PrimaryFormats(mimetype)
	for _, fm := range formats {
		for b, open := range openEquivalent {
			if fm.MimeType == openMimeTypes[open] {
				return append(formats, handler.Format{MimeType: bridgedMimeTypes[b], Title: bridgedTitles[b]})
			}
		}
	}
	return formats
}

// CanConvert reports whether a bridged conversion exists for src > dst given
// what the primary backend can do.
func (f *Factory) CanConvert(src, dst string) bool {
	if !IsBridged(src) && !IsBridged(dst) {
		return false
	}
	primary := f.PrimaryCanConvert
	if primary == nil {
		primary = func(string, string) bool { return false }
	}
	if IsBridged(src) {
		src = openEquivalent[bridgedFormat(src)]
	}
	if IsBridged(dst) {
		open := openEquivalent[bridgedFormat(dst)]
		return open == src || primary(src, open)
	}
	return dst == src || primary(src, dst)
}
