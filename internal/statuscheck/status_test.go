package statuscheck

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type session bool

func (s session) Status() bool { return bool(s) }

func newChecker(opts Options, missing ...string) *Checker {
	c := New(opts)
	c.lookPath = func(bin string) (string, error) {
		for _, m := range missing {
			if bin == m {
				return "", errors.New("not found")
			}
		}
		return "/usr/bin/" + bin, nil
	}
	return c
}

func TestSummaryHealthy(t *testing.T) {
	c := newChecker(Options{
		Cache:          pinger{},
		Session:        session(false),
		X2TBinary:      "x2t",
		ConvertBinary:  "convert",
		IdentifyBinary: "identify",
	})
	s := c.Summary(context.Background())
	assert.True(t, s.Healthy())
	assert.Equal(t, Status{OK: true, Message: "Connected"}, s.Cache)
	assert.Equal(t, "Idle", s.Office.Message)
}

func TestSummaryMissingBinary(t *testing.T) {
	c := newChecker(Options{
		Session:        session(true),
		X2TBinary:      "x2t",
		ConvertBinary:  "convert",
		IdentifyBinary: "identify",
	}, "identify")
	s := c.Summary(context.Background())
	assert.False(t, s.Healthy())
	assert.Equal(t, "identify: binary not found", s.ImageMagick.Message)
	assert.Equal(t, "Running", s.Office.Message)
	assert.Equal(t, "not configured", s.Cache.Message)
}

func TestCacheErrorTrimmed(t *testing.T) {
	c := newChecker(Options{Cache: pinger{err: errors.New(strings.Repeat("x", 300))}})
	s := c.Summary(context.Background())
	assert.False(t, s.Cache.OK)
	assert.Len(t, s.Cache.Message, 120)
}
