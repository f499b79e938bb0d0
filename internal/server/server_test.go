package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docbroker/internal/handler"
	"github.com/local/docbroker/internal/limiter"
	"github.com/local/docbroker/internal/statuscheck"
)

type fakeBroker struct {
	err      error
	out      []byte
	gotData  []byte
	gotSrc   string
	gotDst   string
	gotMD    handler.Metadata
	metadata handler.Metadata
}

func (b *fakeBroker) Convert(_ context.Context, data []byte, src, dst string, _ map[string]string) ([]byte, error) {
	b.gotData, b.gotSrc, b.gotDst = data, src, dst
	if b.err != nil {
		return nil, b.err
	}
	if b.out != nil {
		return b.out, nil
	}
	return []byte("converted:" + string(data)), nil
}

func (b *fakeBroker) GetMetadata(_ context.Context, data []byte, src string, _ bool) (handler.Metadata, error) {
	b.gotData, b.gotSrc = data, src
	if b.err != nil {
		return nil, b.err
	}
	return b.metadata, nil
}

func (b *fakeBroker) SetMetadata(_ context.Context, data []byte, src string, md handler.Metadata) ([]byte, error) {
	b.gotData, b.gotSrc, b.gotMD = data, src, md
	if b.err != nil {
		return nil, b.err
	}
	return []byte("tagged"), nil
}

func (b *fakeBroker) AllowedConversionFormatList(mimetype string) []handler.Format {
	if mimetype == "application/msword" {
		return []handler.Format{{MimeType: "application/pdf", Title: "PDF"}}
	}
	return nil
}

type fakeStorage struct {
	objects map[string][]byte
	types   map[string]string
}

func (s *fakeStorage) Fetch(_ context.Context, ref string) ([]byte, error) {
	d, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", ref)
	}
	return d, nil
}

func (s *fakeStorage) Put(_ context.Context, ref string, data []byte, contentType string) error {
	s.objects[ref] = data
	if s.types == nil {
		s.types = map[string]string{}
	}
	s.types[ref] = contentType
	return nil
}

type fakeHealth struct{ sum statuscheck.Summary }

func (h fakeHealth) Summary(context.Context) statuscheck.Summary { return h.sum }

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestConvertInline(t *testing.T) {
	b := &fakeBroker{}
	h := New(Options{Broker: b}).Router()

	rec := do(t, h, http.MethodPost, "/convert", map[string]any{
		"data":       base64.StdEncoding.EncodeToString([]byte("doc")),
		"src_format": "docx",
		"dst_format": "pdf",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "converted:doc", string(resp.Data))
	assert.Equal(t, len("converted:doc"), resp.Size)
	assert.Equal(t, "docx", b.gotSrc)
	assert.Equal(t, "pdf", b.gotDst)
}

func TestConvertRequiresDestination(t *testing.T) {
	h := New(Options{Broker: &fakeBroker{}}).Router()
	rec := do(t, h, http.MethodPost, "/convert", map[string]any{"data": "eA=="})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidJSON(t *testing.T) {
	h := New(Options{Broker: &fakeBroker{}}).Router()
	rec := do(t, h, http.MethodPost, "/convert", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}

func TestBodyLimit(t *testing.T) {
	h := New(Options{Broker: &fakeBroker{}, MaxBodyBytes: 16}).Router()
	rec := do(t, h, http.MethodPost, "/convert", map[string]any{
		"data":       base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("x"), 64)),
		"dst_format": "pdf",
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{handler.InputError("docx", "pdf", "empty document"), http.StatusBadRequest, "input"},
		{handler.UnsupportedFormatError("docx", "xyz", "unknown destination format"), http.StatusUnprocessableEntity, "unsupported_format"},
		{handler.FatalBackendError("docx", "pdf", "retry exhausted", nil), http.StatusInternalServerError, "fatal_backend"},
		{fmt.Errorf("ooo: %w", limiter.ErrBusy), http.StatusServiceUnavailable, "busy"},
		{errors.New("boom"), http.StatusInternalServerError, "fatal_backend"},
	}
	for _, c := range cases {
		h := New(Options{Broker: &fakeBroker{err: c.err}}).Router()
		rec := do(t, h, http.MethodPost, "/convert", map[string]any{"data": "eA==", "dst_format": "pdf"})
		assert.Equal(t, c.code, rec.Code, c.err.Error())
		body := decodeBody(t, rec)
		assert.Equal(t, c.kind, body["error"])
		assert.Equal(t, c.err.Error(), body["message"])
	}
}

func TestSubprocessDetail(t *testing.T) {
	err := handler.SubprocessError("docy", "docx", &handler.SubprocessExitError{
		Command: []string{"x2t", "config.xml"}, ExitCode: 89, Stderr: "bad input",
	})
	h := New(Options{Broker: &fakeBroker{err: err}}).Router()
	rec := do(t, h, http.MethodPost, "/convert", map[string]any{"data": "eA==", "dst_format": "docx"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "subprocess_exit", body["error"])
	assert.Equal(t, "bad input", body["detail"])
}

func TestConvertThroughStorage(t *testing.T) {
	b := &fakeBroker{}
	st := &fakeStorage{objects: map[string][]byte{"s3://in/a.docx": []byte("remote")}}
	h := New(Options{Broker: b, Storage: st}).Router()

	rec := do(t, h, http.MethodPost, "/convert", map[string]any{
		"source":     "s3://in/a.docx",
		"dst_format": "pdf",
		"output":     "s3://out/a.pdf",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
	assert.Equal(t, "s3://out/a.pdf", resp.Output)
	assert.Equal(t, "converted:remote", string(st.objects["s3://out/a.pdf"]))

	assert.Equal(t, "text/plain", st.types["s3://out/a.pdf"])

	rec = do(t, h, http.MethodPost, "/convert", map[string]any{"source": "s3://in/missing", "dst_format": "pdf"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = do(t, h, http.MethodPost, "/convert", map[string]any{"source": "s3://in/a.docx", "data": "eA==", "dst_format": "pdf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStorageNotConfigured(t *testing.T) {
	h := New(Options{Broker: &fakeBroker{}}).Router()
	rec := do(t, h, http.MethodPost, "/convert", map[string]any{"source": "s3://in/a.docx", "dst_format": "pdf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "not configured")
}

func TestGetMetadataEncodesData(t *testing.T) {
	b := &fakeBroker{metadata: handler.Metadata{"Title": "Report", handler.DataKey: "PK\x03\x04"}}
	h := New(Options{Broker: b}).Router()

	rec := do(t, h, http.MethodPost, "/metadata", map[string]any{"data": "eA==", "src_format": "odt", "base": true})
	require.Equal(t, http.StatusOK, rec.Code)
	md := decodeBody(t, rec)["metadata"].(map[string]any)
	assert.Equal(t, "Report", md["Title"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("PK\x03\x04")), md[handler.DataKey])
	assert.Equal(t, "PK\x03\x04", b.metadata[handler.DataKey], "broker result untouched")
}

func TestSetMetadata(t *testing.T) {
	b := &fakeBroker{}
	h := New(Options{Broker: b}).Router()

	rec := do(t, h, http.MethodPost, "/metadata/set", map[string]any{
		"data":       "eA==",
		"src_format": "png",
		"metadata":   map[string]any{"Compression": "Zip"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Zip", b.gotMD["Compression"])
	assert.Equal(t, []byte("x"), b.gotData)
}

func TestFormats(t *testing.T) {
	h := New(Options{Broker: &fakeBroker{}}).Router()

	rec := do(t, h, http.MethodGet, "/formats?mimetype=application/msword", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	formats := decodeBody(t, rec)["formats"].([]any)
	require.Len(t, formats, 1)
	assert.Equal(t, "application/pdf", formats[0].(map[string]any)["mimetype"])

	rec = do(t, h, http.MethodGet, "/formats?mimetype=text/unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["formats"])

	rec = do(t, h, http.MethodGet, "/formats", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := statuscheck.Status{OK: true, Message: "Available"}
	healthy := statuscheck.Summary{Office: ok, X2T: ok, ImageMagick: ok}
	h := New(Options{Broker: &fakeBroker{}, Health: fakeHealth{healthy}}).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)

	broken := healthy
	broken.X2T = statuscheck.Status{Message: "x2t: binary not found"}
	h = New(Options{Broker: &fakeBroker{}, Health: fakeHealth{broken}}).Router()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health", nil).Code)

	h = New(Options{Broker: &fakeBroker{}}).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestMetricsRoute(t *testing.T) {
	h := New(Options{Broker: &fakeBroker{}}).Router()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", nil).Code)
}

func TestUploadContentTypeOfOfficeOutput(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "word/document.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("<x/>"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	b := &fakeBroker{out: buf.Bytes()}
	st := &fakeStorage{objects: map[string][]byte{"s3://in/a.odt": []byte("remote")}}
	h := New(Options{Broker: b, Storage: st}).Router()

	rec := do(t, h, http.MethodPost, "/convert", map[string]any{
		"source":     "s3://in/a.odt",
		"dst_format": "docx",
		"output":     "s3://out/a.docx",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", st.types["s3://out/a.docx"])
}
