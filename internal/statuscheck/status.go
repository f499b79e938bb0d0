package statuscheck

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// Pinger models the minimal Redis capability we need for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Session reports whether the office process is up.
type Session interface {
	Status() bool
}

// Checker aggregates health checks for the converters and their dependencies.
type Checker struct {
	cache          Pinger
	session        Session
	x2tBinary      string
	convertBinary  string
	identifyBinary string
	lookPath       func(string) (string, error)
}

// Options configures the Checker. Nil or empty fields are reported as not
// configured.
type Options struct {
	Cache          Pinger
	Session        Session
	X2TBinary      string
	ConvertBinary  string
	IdentifyBinary string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Cache       Status `json:"cache"`
	Office      Status `json:"office"`
	X2T         Status `json:"x2t"`
	ImageMagick Status `json:"imagemagick"`
}

// Healthy reports whether every converter is usable. The cache is optional.
func (s Summary) Healthy() bool {
	return s.Office.OK && s.X2T.OK && s.ImageMagick.OK
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
	return &Checker{
		cache:          opts.Cache,
		session:        opts.Session,
		x2tBinary:      opts.X2TBinary,
		convertBinary:  opts.ConvertBinary,
		identifyBinary: opts.IdentifyBinary,
		lookPath:       exec.LookPath,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Cache:       c.checkCache(ctx),
		Office:      c.checkOffice(),
		X2T:         c.checkBinary(c.x2tBinary),
		ImageMagick: c.checkImageMagick(),
	}
}

func (c *Checker) checkCache(ctx context.Context) Status {
	if c.cache == nil {
		return Status{OK: false, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.cache.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

// checkOffice does not start the process; it starts lazily on first use.
func (c *Checker) checkOffice() Status {
	if c.session == nil {
		return Status{OK: false, Message: "not configured"}
	}
	if c.session.Status() {
		return Status{OK: true, Message: "Running"}
	}
	return Status{OK: true, Message: "Idle"}
}

func (c *Checker) checkImageMagick() Status {
	if st := c.checkBinary(c.convertBinary); !st.OK {
		return st
	}
	return c.checkBinary(c.identifyBinary)
}

func (c *Checker) checkBinary(bin string) Status {
	if bin == "" {
		return Status{OK: false, Message: "not configured"}
	}
	if _, err := c.lookPath(bin); err != nil {
		return Status{OK: false, Message: bin + ": binary not found"}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
