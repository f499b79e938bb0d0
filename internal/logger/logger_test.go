package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	mu      sync.Mutex
	batches [][]axiom.Event
}

func (f *fakeIngester) IngestEvents(_ context.Context, dataset string, events []axiom.Event, _ ...ingest.Option) (*ingest.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]axiom.Event(nil), events...))
	return &ingest.Status{}, nil
}

func (f *fakeIngester) events() []axiom.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []axiom.Event
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func TestShipperFiltersAndFlushesOnClose(t *testing.T) {
	ing := &fakeIngester{}
	s := newShipper(ing, "test", zerolog.InfoLevel, time.Hour)

	_, _ = s.Write([]byte(`{"level":"debug","message":"noise"}`))
	_, _ = s.Write([]byte(`{"level":"warn","message":"restart"}`))
	_, _ = s.Write([]byte("not json"))
	s.Close()
	s.Close()

	evs := ing.events()
	require.Len(t, evs, 2)
	assert.Equal(t, "restart", evs[0]["message"])
	assert.Equal(t, serviceName, evs[0]["service"])
	assert.Contains(t, evs[0], ingest.TimestampField)
	assert.Equal(t, "not json", evs[1]["message"])
}

func TestShipperBatches(t *testing.T) {
	ing := &fakeIngester{}
	s := newShipper(ing, "test", zerolog.InfoLevel, time.Hour)
	for i := 0; i < shipBatchSize+5; i++ {
		_, _ = s.Write([]byte(`{"level":"info","message":"x"}`))
	}
	s.Close()
	assert.Len(t, ing.events(), shipBatchSize+5)
	assert.GreaterOrEqual(t, len(ing.batches), 2)
}

func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "docbroker.log")
	require.NoError(t, Init(Options{Level: "debug", File: file, Output: &buf}))
	defer Close()

	log.Debug().Str("backend", "x2t").Msg("hello")

	var ev map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev))
	assert.Equal(t, "hello", ev["message"])
	assert.Equal(t, serviceName, ev["service"])
	assert.Equal(t, "x2t", ev["backend"])
	assert.FileExists(t, file)
}

func TestInitLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "nonsense", Output: &buf}))
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, zerolog.InfoLevel, Get().GetLevel())
}
