// Package server exposes the broker as a small JSON-over-HTTP API.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/filetype"
	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/limiter"
	"github.com/local/docbroker/internal/metrics"
	"github.com/local/docbroker/internal/statuscheck"
)

// Broker is the conversion surface the server drives.
type Broker interface {
	Convert(ctx context.Context, data []byte, src, dst string, params map[string]string) ([]byte, error)
	GetMetadata(ctx context.Context, data []byte, src string, base bool) (handler.Metadata, error)
	SetMetadata(ctx context.Context, data []byte, src string, md handler.Metadata) ([]byte, error)
	AllowedConversionFormatList(mimetype string) []handler.Format
}

// Storage resolves s3:// references.
type Storage interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte, contentType string) error
}

// Health reports dependency status.
type Health interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Options wires the server. Storage and Health are optional.
type Options struct {
	Broker         Broker
	Storage        Storage
	Health         Health
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// Server serves the conversion API.
type Server struct {
	broker  Broker
	storage Storage
	health  Health
	maxBody int64
	timeout time.Duration
}

// New returns a server over opts.
func New(opts Options) *Server {
	return &Server{
		broker:  opts.Broker,
		storage: opts.Storage,
		health:  opts.Health,
		maxBody: opts.MaxBodyBytes,
		timeout: opts.RequestTimeout,
	}
}

// Router returns the HTTP handler with all routes configured.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/formats", s.handleFormats)

	r.Group(func(r chi.Router) {
		if s.timeout > 0 {
			r.Use(chimiddleware.Timeout(s.timeout))
		}
		r.Post("/convert", s.handleConvert)
		r.Post("/metadata", s.handleGetMetadata)
		r.Post("/metadata/set", s.handleSetMetadata)
	})
	return r
}

// source is the document part of every request: inline base64 data or an
// s3:// reference.
type source struct {
	Data      []byte `json:"data,omitempty"`
	Source    string `json:"source,omitempty"`
	SrcFormat string `json:"src_format,omitempty"`
}

type convertRequest struct {
	source
	DstFormat string            `json:"dst_format"`
	Params    map[string]string `json:"params,omitempty"`
	Output    string            `json:"output,omitempty"`
}

type getMetadataRequest struct {
	source
	Base bool `json:"base,omitempty"`
}

type setMetadataRequest struct {
	source
	Metadata handler.Metadata `json:"metadata"`
	Output   string           `json:"output,omitempty"`
}

type documentResponse struct {
	Data   []byte `json:"data,omitempty"`
	Output string `json:"output,omitempty"`
	Size   int    `json:"size"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DstFormat == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "dst_format is required", "")
		return
	}
	data, ok := s.load(w, r, req.source)
	if !ok {
		return
	}
	out, err := s.broker.Convert(r.Context(), data, req.SrcFormat, req.DstFormat, req.Params)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	s.deliver(w, r, out, req.Output)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	var req getMetadataRequest
	if !s.decode(w, r, &req) {
		return
	}
	data, ok := s.load(w, r, req.source)
	if !ok {
		return
	}
	md, err := s.broker.GetMetadata(r.Context(), data, req.SrcFormat, req.Base)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metadata": encodeData(md)})
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	var req setMetadataRequest
	if !s.decode(w, r, &req) {
		return
	}
	data, ok := s.load(w, r, req.source)
	if !ok {
		return
	}
	out, err := s.broker.SetMetadata(r.Context(), data, req.SrcFormat, req.Metadata)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	s.deliver(w, r, out, req.Output)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	mt := r.URL.Query().Get("mimetype")
	if mt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "mimetype is required", "")
		return
	}
	formats := s.broker.AllowedConversionFormatList(mt)
	if formats == nil {
		formats = []handler.Format{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"mimetype": mt, "formats": formats})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	sum := s.health.Summary(r.Context())
	status := http.StatusOK
	if !sum.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, sum)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := r.Body
	if s.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large", "")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json", err.Error())
		return false
	}
	return true
}

// load returns the inline data or fetches the referenced object.
func (s *Server) load(w http.ResponseWriter, r *http.Request, src source) ([]byte, bool) {
	if src.Source == "" {
		return src.Data, true
	}
	if len(src.Data) > 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "data and source are mutually exclusive", "")
		return nil, false
	}
	if s.storage == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "object storage is not configured", "")
		return nil, false
	}
	data, err := s.storage.Fetch(r.Context(), src.Source)
	if err != nil {
		log.Error().Err(err).Str("source", src.Source).Msg("fetch source failed")
		writeError(w, http.StatusBadGateway, "storage", "fetch source failed", err.Error())
		return nil, false
	}
	return data, true
}

// deliver writes out inline or uploads it when output names a reference.
func (s *Server) deliver(w http.ResponseWriter, r *http.Request, out []byte, output string) {
	if output == "" {
		writeJSON(w, http.StatusOK, documentResponse{Data: out, Size: len(out)})
		return
	}
	if s.storage == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "object storage is not configured", "")
		return
	}
	if err := s.storage.Put(r.Context(), output, out, filetype.ContentType(out, output)); err != nil {
		log.Error().Err(err).Str("output", output).Msg("upload result failed")
		writeError(w, http.StatusBadGateway, "storage", "upload result failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Output: output, Size: len(out)})
}

// encodeData base64-encodes the document carried under the Data key so the
// mapping stays valid JSON.
func encodeData(md handler.Metadata) handler.Metadata {
	out := md.Clone()
	if s, ok := out[handler.DataKey].(string); ok && s != "" {
		out[handler.DataKey] = base64.StdEncoding.EncodeToString([]byte(s))
	}
	return out
}

func statusFor(err error) int {
	if errors.Is(err, limiter.ErrBusy) {
		return http.StatusServiceUnavailable
	}
	switch handler.KindOf(err) {
	case handler.KindInput:
		return http.StatusBadRequest
	case handler.KindUnsupportedFormat:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeBrokerError(w http.ResponseWriter, err error) {
	kind := string(handler.KindOf(err))
	if errors.Is(err, limiter.ErrBusy) {
		kind = "busy"
	}
	var detail string
	var exit *handler.SubprocessExitError
	if errors.As(err, &exit) {
		detail = exit.Stderr
	}
	writeError(w, statusFor(err), kind, err.Error(), detail)
}

func writeError(w http.ResponseWriter, status int, kind, message, detail string) {
	resp := map[string]string{
		"error":   kind,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
