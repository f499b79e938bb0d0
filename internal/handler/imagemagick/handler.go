// Package imagemagick converts raster images with the ImageMagick command
// line tools.
package imagemagick

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/document"
	"github.com/local/docbroker/internal/filetype"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/procexec"
)

type imageFormat struct {
	mimetype string
	title    string
	// source is false for formats ImageMagick only writes here
	source bool
}

var formats = map[string]imageFormat{
	"png":  {"image/png", "PNG - Portable Network Graphics", true},
	"jpg":  {"image/jpeg", "JPEG - Joint Photographic Experts Group", true},
	"jpeg": {"image/jpeg", "JPEG - Joint Photographic Experts Group", true},
	"gif":  {"image/gif", "GIF - Graphics Interchange Format", true},
	"bmp":  {"image/bmp", "BMP - Windows Bitmap", true},
	"tif":  {"image/tiff", "TIFF - Tagged Image File Format", true},
	"tiff": {"image/tiff", "TIFF - Tagged Image File Format", true},
	"webp": {"image/webp", "WebP Image", true},
	"ppm":  {"image/x-portable-pixmap", "PPM - Portable Pixmap", true},
	"pgm":  {"image/x-portable-graymap", "PGM - Portable Graymap", true},
	"pbm":  {"image/x-portable-bitmap", "PBM - Portable Bitmap", true},
	"ico":  {"image/vnd.microsoft.icon", "ICO - Windows Icon", true},
	"pdf":  {"application/pdf", "PDF - Portable Document Format", false},
}

func normalize(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// IsImage reports whether format is a raster format this backend reads.
func IsImage(format string) bool {
	f, ok := formats[normalize(format)]
	return ok && f.source
}

// CanConvert reports whether src > dst is a raster conversion.
func CanConvert(src, dst string) bool {
	_, ok := formats[normalize(dst)]
	return IsImage(src) && ok
}

// Knows reports whether format is any format of this backend.
func Knows(format string) bool {
	_, ok := formats[normalize(format)]
	return ok
}

// Extension returns the first extension registered for mimetype, or "".
func Extension(mimetype string) string {
	mimetype = strings.ToLower(strings.TrimSpace(mimetype))
	exts := make([]string, 0, len(formats))
	for ext, f := range formats {
		if f.mimetype == mimetype {
			exts = append(exts, ext)
		}
	}
	if len(exts) == 0 {
		return ""
	}
	sort.Strings(exts)
	return exts[0]
}

// Factory builds per-request handlers.
type Factory struct {
	ConvertBinary  string
	IdentifyBinary string
	BaseDir        string
	Timeout        time.Duration
	Runner         procexec.Runner
}

// CanConvert reports whether src > dst is a raster conversion.
func (f *Factory) CanConvert(src, dst string) bool { return CanConvert(src, dst) }

// New stages data as a working document.
func (f *Factory) New(data []byte, format string) (*Handler, error) {
	format = normalize(format)
	if len(data) == 0 {
		return nil, handler.InputError(format, "", "empty document")
	}
	doc, err := document.New(f.BaseDir, data, format)
	if err != nil {
		return nil, handler.FatalBackendError(format, "", "stage working document", err)
	}
	return &Handler{f: f, doc: doc, format: format}, nil
}

// NewHandler is New behind the handler contract.
func (f *Factory) NewHandler(data []byte, format string) (handler.Handler, error) {
	h, err := f.New(data, format)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// AllowedConversionFormatList lists the raster formats an image converts to.
func (f *Factory) AllowedConversionFormatList(mimetype string) []handler.Format {
	mimetype = strings.ToLower(strings.TrimSpace(mimetype))
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = strings.TrimSpace(mimetype[:i])
	}
	readable := false
	for _, fm := range formats {
		if fm.mimetype == mimetype && fm.source {
			readable = true
			break
		}
	}
	if !readable {
		return nil
	}

	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	seen := map[string]bool{}
	var out []handler.Format
	for _, ext := range exts {
		fm := formats[ext]
		if seen[fm.mimetype] {
			continue
		}
		seen[fm.mimetype] = true
		out = append(out, handler.Format{MimeType: fm.mimetype, Title: fm.title})
	}
	return out
}

// Handler runs one operation on one image.
type Handler struct {
	f      *Factory
	doc    *document.Document
	format string
}

var _ handler.Handler = (*Handler)(nil)

// Convert writes the image in dst format.
func (h *Handler) Convert(ctx context.Context, dst string, _ map[string]string) ([]byte, error) {
	defer h.doc.Trash()
	dst = normalize(dst)
	if !CanConvert(h.format, dst) {
		return nil, handler.UnsupportedFormatError(h.format, dst, "not a raster conversion")
	}
	out := filepath.Join(h.doc.Dir(), "output."+dst)
	if err := h.run(ctx, dst, h.f.ConvertBinary, h.doc.URL(), out); err != nil {
		return nil, err
	}
	return h.result(out, dst)
}

// GetMetadata returns the flattened fields of identify -verbose.
func (h *Handler) GetMetadata(ctx context.Context, base bool) (handler.Metadata, error) {
	defer h.doc.Trash()
	data, err := h.doc.Content(false)
	if err != nil {
		return nil, handler.FatalBackendError(h.format, "", "read image", err)
	}
	res, err := h.exec(ctx, "", h.f.IdentifyBinary, "-verbose", h.doc.URL())
	if err != nil {
		return nil, err
	}
	md := parseIdentify(string(res.Stdout))
	md["MIMEType"] = filetype.MimeType(data)
	md[handler.DataKey] = ""
	if base {
		md[handler.DataKey] = string(data)
	}
	return md, nil
}

// SetMetadata stores each key as an image property.
func (h *Handler) SetMetadata(ctx context.Context, md handler.Metadata) ([]byte, error) {
	defer h.doc.Trash()
	args := []string{h.doc.URL()}
	for _, k := range md.Without(handler.DataKey).Keys() {
		args = append(args, "-set", k, fmt.Sprint(md[k]))
	}
	out := filepath.Join(h.doc.Dir(), "output."+h.format)
	args = append(args, out)
	if err := h.run(ctx, h.format, h.f.ConvertBinary, args...); err != nil {
		return nil, err
	}
	return h.result(out, h.format)
}

func (h *Handler) run(ctx context.Context, dst, bin string, args ...string) error {
	_, err := h.exec(ctx, dst, bin, args...)
	return err
}

func (h *Handler) exec(ctx context.Context, dst, bin string, args ...string) (procexec.Result, error) {
	if h.f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.f.Timeout)
		defer cancel()
	}
	cmd := procexec.Command{Path: bin, Args: args}
	res, err := h.f.Runner.Run(ctx, cmd)
	if err != nil {
		return res, handler.FatalBackendError(h.format, dst, bin+" invocation failed", err)
	}
	if len(res.Stderr) > 0 {
		log.Debug().Str("cmd", bin).Str("stderr", string(res.Stderr)).Msg("imagemagick stderr")
	}
	if res.ExitCode != 0 {
		return res, handler.SubprocessError(h.format, dst, &handler.SubprocessExitError{
			Command:  cmd.Argv(),
			ExitCode: res.ExitCode,
			Stdout:   string(res.Stdout),
			Stderr:   string(res.Stderr),
		})
	}
	return res, nil
}

func (h *Handler) result(path, dst string) ([]byte, error) {
	if err := h.doc.Reload(path); err != nil {
		return nil, handler.FatalBackendError(h.format, dst, "convert produced no output", err)
	}
	data, err := h.doc.Content(false)
	if err != nil {
		return nil, handler.FatalBackendError(h.format, dst, "read output", err)
	}
	return data, nil
}

// parseIdentify flattens the "Key: value" lines of identify -verbose into a
// single mapping. Entries under "Properties:" hold what -set wrote and take
// precedence; other nested entries fill in keys not already present.
func parseIdentify(out string) handler.Metadata {
	md := handler.Metadata{}
	section := ""
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent == 0 {
			section = ""
			continue
		}
		if indent <= 2 {
			section = ""
			if strings.HasSuffix(trimmed, ":") {
				section = strings.TrimSuffix(trimmed, ":")
				continue
			}
		}
		key, value, ok := strings.Cut(trimmed, ": ")
		if !ok || key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		switch {
		case indent <= 2, section == "Properties":
			md[key] = value
		default:
			if _, seen := md[key]; !seen {
				md[key] = value
			}
		}
	}
	return md
}
