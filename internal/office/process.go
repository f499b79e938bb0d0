package office

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/procexec"
)

// Options configure the office process.
type Options struct {
	Binary       string
	Host         string
	Port         int
	ProfileDir   string
	StartTimeout time.Duration
	StopGrace    time.Duration
	Display      *Display
}

// Process supervises a single soffice instance listening for UNO
// connections.
type Process struct {
	opts Options
	sess sync.Mutex

	// lifecycle serializes start and stop
	lifecycle sync.Mutex
	proc      daemon
}

// NewProcess returns an unstarted supervisor. The process starts lazily on
// the first EnsureRunning.
func NewProcess(opts Options) *Process {
	if opts.Binary == "" {
		opts.Binary = "soffice"
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 60 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	if opts.ProfileDir == "" {
		opts.ProfileDir = filepath.Join(os.TempDir(), "docbroker_profile_"+uuid.NewString())
	}
	return &Process{opts: opts, proc: daemon{name: "soffice"}}
}

func (p *Process) Acquire() { p.sess.Lock() }
func (p *Process) Release() { p.sess.Unlock() }

func (p *Process) Address() (string, int) { return p.opts.Host, p.opts.Port }

func (p *Process) Status() bool { return p.proc.running() }

// EnsureRunning starts the process unless it is already alive.
func (p *Process) EnsureRunning(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.proc.running() {
		return nil
	}
	return p.start(ctx)
}

// Restart stops the current process, if any, and starts a new one.
func (p *Process) Restart(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	log.Info().Str("host", p.opts.Host).Int("port", p.opts.Port).Msg("restarting office process")
	p.proc.stop(p.opts.StopGrace)
	return p.start(ctx)
}

// Stop terminates the process and the display.
func (p *Process) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	p.proc.stop(p.opts.StopGrace)
	if p.opts.Display != nil {
		p.opts.Display.Stop()
	}
}

func (p *Process) argv() []string {
	return []string{
		p.opts.Binary,
		"-env:UserInstallation=file://" + p.opts.ProfileDir,
		"--headless",
		"--invisible",
		"--nologo",
		"--nodefault",
		"--norestore",
		"--nofirststartwizard",
		"--nolockcheck",
		fmt.Sprintf("--accept=socket,host=%s,port=%d;urp;", p.opts.Host, p.opts.Port),
	}
}

func (p *Process) start(ctx context.Context) error {
	var env []string
	if d := p.opts.Display; d != nil && d.Enabled() {
		// a display that outlived its office process may be wedged
		if err := d.Restart(); err != nil {
			return err
		}
		env = procexec.Environ(map[string]string{"DISPLAY": d.Name()})
	}
	if err := os.MkdirAll(p.opts.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create office profile: %w", err)
	}
	if err := p.proc.start(p.argv(), env); err != nil {
		return err
	}
	if err := p.waitReady(ctx); err != nil {
		p.proc.stop(p.opts.StopGrace)
		return err
	}
	log.Info().Str("host", p.opts.Host).Int("port", p.opts.Port).Msg("office process ready")
	return nil
}

// waitReady polls the UNO port until it accepts connections.
func (p *Process) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.StartTimeout)
	defer cancel()

	addr := net.JoinHostPort(p.opts.Host, strconv.Itoa(p.opts.Port))
	exited := p.proc.exited()
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-exited:
			return fmt.Errorf("office process exited during startup")
		case <-ctx.Done():
			return fmt.Errorf("office process not listening on %s: %w", addr, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}
