package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
)

const (
	shipBuffer    = 1000
	shipBatchSize = 200
)

// ingester is the part of the Axiom client the shipper needs.
type ingester interface {
	IngestEvents(ctx context.Context, dataset string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

func newAxiomIngester(token, orgID string) (ingester, error) {
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	return axiom.NewClient(opts...)
}

// shipper is an io.Writer that parses zerolog JSON lines and ingests them
// in batches. Events below minLevel are skipped; a full buffer drops.
type shipper struct {
	ing      ingester
	dataset  string
	minLevel zerolog.Level
	ch       chan axiom.Event
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

func newShipper(ing ingester, dataset string, minLevel zerolog.Level, flushEvery time.Duration) *shipper {
	if flushEvery <= 0 {
		flushEvery = 10 * time.Second
	}
	s := &shipper{
		ing:      ing,
		dataset:  dataset,
		minLevel: minLevel,
		ch:       make(chan axiom.Event, shipBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop(flushEvery)
	return s
}

func (s *shipper) Write(p []byte) (int, error) {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]any{"message": string(p), "level": "info"}
	}
	if lvl, ok := ev["level"].(string); ok {
		if l, err := zerolog.ParseLevel(lvl); err == nil && l < s.minLevel {
			return len(p), nil
		}
	}
	if _, ok := ev["service"]; !ok {
		ev["service"] = serviceName
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}
	select {
	case s.ch <- axiom.Event(ev):
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

func (s *shipper) loop(flushEvery time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	batch := make([]axiom.Event, 0, shipBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if _, err := s.ing.IngestEvents(ctx, s.dataset, batch); err != nil {
			fmt.Fprintf(os.Stderr, "axiom ingest failed: %v\n", err)
		}
		cancel()
		batch = batch[:0]
	}
	for {
		select {
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case ev := <-s.ch:
			batch = append(batch, ev)
			if len(batch) >= shipBatchSize {
				flush()
			}
		}
	}
}

// Close drains buffered events and stops the shipper.
func (s *shipper) Close() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		if n := s.dropped.Load(); n > 0 {
			fmt.Fprintf(os.Stderr, "axiom: dropped %d events\n", n)
		}
	})
}
