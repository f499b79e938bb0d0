// Package broker routes each request to the backend that can serve it and
// wraps every operation with caching, metrics and logging.
package broker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/local/docbroker/internal/filetype"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/handler/imagemagick"
	"github.com/local/docbroker/internal/handler/x2t"
	"github.com/local/docbroker/internal/limiter"
	"github.com/local/docbroker/internal/metrics"
	"github.com/local/docbroker/internal/mimemap"
)

// Backend names a conversion backend.
type Backend int

const (
	BackendOffice Backend = iota
	BackendX2T
	BackendImage
)

func (b Backend) String() string {
	switch b {
	case BackendX2T:
		return "x2t"
	case BackendImage:
		return "imagemagick"
	default:
		return "ooo"
	}
}

// SelectBackend picks the backend for src > dst. Formats are extensions.
func SelectBackend(src, dst string) Backend {
	switch {
	case x2t.IsBridged(src) || x2t.IsBridged(dst):
		return BackendX2T
	case imagemagick.CanConvert(src, dst):
		return BackendImage
	default:
		return BackendOffice
	}
}

// Factory stages a document for one backend.
type Factory interface {
	NewHandler(data []byte, format string) (handler.Handler, error)
	AllowedConversionFormatList(mimetype string) []handler.Format
	CanConvert(src, dst string) bool
}

// Cache stores finished conversions by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Broker is the service facade over all backends.
type Broker struct {
	backends map[Backend]Factory
	table    *mimemap.Table
	detector *filetype.Detector
	cache    Cache
	limiter  *limiter.Local
}

// Option configures a Broker.
type Option func(*Broker)

// WithBackend registers f for b.
func WithBackend(b Backend, f Factory) Option {
	return func(br *Broker) { br.backends[b] = f }
}

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(br *Broker) { br.cache = c }
}

// WithLimiter bounds in-flight operations per backend.
func WithLimiter(l *limiter.Local) Option {
	return func(br *Broker) { br.limiter = l }
}

// New returns a broker over the office capability table.
func New(table *mimemap.Table, opts ...Option) *Broker {
	b := &Broker{
		backends: map[Backend]Factory{},
		table:    table,
		detector: filetype.New(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Convert converts data from src to dst. An empty src is sniffed from the
// content.
func (b *Broker) Convert(ctx context.Context, data []byte, src, dst string, params map[string]string) (out []byte, err error) {
	if len(data) == 0 {
		return nil, handler.InputError(src, dst, "empty document")
	}
	src = b.resolve(data, src)
	dst = b.normalize(dst)
	if !b.knows(dst) {
		return nil, handler.UnsupportedFormatError(src, dst, "unknown destination format")
	}
	backend := SelectBackend(src, dst)
	defer b.observe(backend, "convert", src, dst, time.Now(), &err)
	if f, ok := b.backends[backend]; ok && !f.CanConvert(src, dst) {
		return nil, handler.UnsupportedFormatError(src, dst, "no "+backend.String()+" conversion path")
	}

	key := cacheKey(data, src, dst, params)
	if cached, ok := b.cacheGet(ctx, key); ok {
		return cached, nil
	}

	release, err := b.admit(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := b.handler(backend, data, src, dst)
	if err != nil {
		return nil, err
	}
	if out, err = h.Convert(ctx, dst, params); err != nil {
		return nil, err
	}
	b.cachePut(ctx, key, out)
	return out, nil
}

// GetMetadata reads the metadata of data. With base the document converted
// to its base format is returned under the Data key.
func (b *Broker) GetMetadata(ctx context.Context, data []byte, src string, base bool) (md handler.Metadata, err error) {
	if len(data) == 0 {
		return nil, handler.InputError(src, "", "empty document")
	}
	src = b.resolve(data, src)
	backend := SelectBackend(src, src)
	defer b.observe(backend, "getmetadata", src, "", time.Now(), &err)
	release, err := b.admit(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := b.handler(backend, data, src, "")
	if err != nil {
		return nil, err
	}
	return h.GetMetadata(ctx, base)
}

// SetMetadata returns data with md applied.
func (b *Broker) SetMetadata(ctx context.Context, data []byte, src string, md handler.Metadata) (out []byte, err error) {
	if len(data) == 0 {
		return nil, handler.InputError(src, src, "empty document")
	}
	src = b.resolve(data, src)
	backend := SelectBackend(src, src)
	defer b.observe(backend, "setmetadata", src, src, time.Now(), &err)
	release, err := b.admit(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := b.handler(backend, data, src, src)
	if err != nil {
		return nil, err
	}
	return h.SetMetadata(ctx, md)
}

// AllowedConversionFormatList lists the formats a mimetype converts to
// across all configured backends.
func (b *Broker) AllowedConversionFormatList(mimetype string) []handler.Format {
	if i := strings.IndexByte(mimetype, ';'); i >= 0 {
		mimetype = mimetype[:i]
	}
	mimetype = strings.ToLower(strings.TrimSpace(mimetype))

	var order []Backend
	switch {
	case x2t.IsBridged(mimetype):
		order = []Backend{BackendX2T}
	case imagemagick.IsImage(imagemagick.Extension(mimetype)):
		order = []Backend{BackendImage, BackendOffice}
	default:
		// the bridging backend extends the office list with bridged targets
		order = []Backend{BackendX2T, BackendOffice}
	}
	for _, be := range order {
		if f, ok := b.backends[be]; ok {
			return f.AllowedConversionFormatList(mimetype)
		}
	}
	return nil
}

func (b *Broker) admit(ctx context.Context, backend Backend) (func(), error) {
	release, err := b.limiter.Acquire(ctx, backend.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", backend, err)
	}
	return release, nil
}

func (b *Broker) handler(backend Backend, data []byte, src, dst string) (handler.Handler, error) {
	f, ok := b.backends[backend]
	if !ok {
		return nil, handler.UnsupportedFormatError(src, dst, backend.String()+" backend is not configured")
	}
	return f.NewHandler(data, src)
}

// resolve turns src into an extension, sniffing data when src is empty.
func (b *Broker) resolve(data []byte, src string) string {
	if strings.TrimSpace(src) == "" {
		src = b.detector.Detect(data, "").Extension
		log.Debug().Str("src", src).Msg("source format sniffed")
	}
	return b.normalize(src)
}

// normalize maps a mimetype to an extension and lowercases extensions.
func (b *Broker) normalize(format string) string {
	format = strings.TrimSpace(format)
	if !strings.Contains(format, "/") {
		return mimemap.Normalize(format)
	}
	if ext := x2t.Extension(format); ext != "" {
		return ext
	}
	if exts := b.table.Extensions(format); len(exts) > 0 {
		return exts[0]
	}
	if ext := imagemagick.Extension(format); ext != "" {
		return ext
	}
	return strings.ToLower(format)
}

func (b *Broker) knows(format string) bool {
	return b.table.Has(format) || x2t.IsBridged(format) || imagemagick.Knows(format)
}

func (b *Broker) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if b.cache == nil {
		return nil, false
	}
	data, ok, err := b.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.IncCache("error")
		log.Warn().Err(err).Msg("result cache lookup failed")
		return nil, false
	case ok:
		metrics.IncCache("hit")
		return data, true
	default:
		metrics.IncCache("miss")
		return nil, false
	}
}

func (b *Broker) cachePut(ctx context.Context, key string, data []byte) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Put(ctx, key, data); err != nil {
		metrics.IncCache("error")
		log.Warn().Err(err).Msg("result cache store failed")
	}
}

func (b *Broker) observe(backend Backend, op, src, dst string, start time.Time, errp *error) {
	dur := time.Since(start)
	result := "ok"
	ev := log.Info()
	if err := *errp; err != nil {
		result = string(handler.KindOf(err))
		if errors.Is(err, limiter.ErrBusy) {
			result = "busy"
		}
		ev = log.Error().Err(err)
	}
	metrics.ObserveOperation(backend.String(), op, result, dur)
	ev.Str("backend", backend.String()).
		Str("operation", op).
		Str("src", src).
		Str("dst", dst).
		Dur("duration", dur).
		Msg("operation finished")
}

// cacheKey is a blake2b-256 digest of the content and every conversion input.
func cacheKey(data []byte, src, dst string, params map[string]string) string {
	h, _ := blake2b.New256(nil)
	h.Write(data)
	for _, s := range []string{src, dst} {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k + "=" + params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
