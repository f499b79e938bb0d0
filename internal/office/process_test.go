//go:build unix

package office

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOffice writes a stand-in binary that ignores its arguments.
func fakeOffice(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func listen(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestProcessLifecycle(t *testing.T) {
	host, port := listen(t)
	p := NewProcess(Options{
		Binary:       fakeOffice(t, "exec sleep 30"),
		Host:         host,
		Port:         port,
		ProfileDir:   t.TempDir(),
		StartTimeout: 5 * time.Second,
		StopGrace:    time.Second,
	})
	defer p.Stop()

	assert.False(t, p.Status())
	require.NoError(t, p.EnsureRunning(context.Background()))
	assert.True(t, p.Status())

	h, pt := p.Address()
	assert.Equal(t, host, h)
	assert.Equal(t, port, pt)

	require.NoError(t, p.Restart(context.Background()))
	assert.True(t, p.Status())

	p.Stop()
	assert.False(t, p.Status())
}

func TestProcessStartRestartsDisplay(t *testing.T) {
	host, port := listen(t)
	d := NewDisplay(true, fakeOffice(t, "exec sleep 30"), 99)
	p := NewProcess(Options{
		Binary:       fakeOffice(t, "exec sleep 30"),
		Host:         host,
		Port:         port,
		ProfileDir:   t.TempDir(),
		StartTimeout: 5 * time.Second,
		StopGrace:    time.Second,
		Display:      d,
	})
	defer d.Stop()
	defer p.Stop()

	require.NoError(t, p.EnsureRunning(context.Background()))
	require.True(t, d.Status())
	first := d.proc.exited()

	p.proc.stop(time.Second)
	require.True(t, d.Status(), "the display is still alive")
	require.NoError(t, p.EnsureRunning(context.Background()))
	assert.True(t, d.Status())
	assert.NotEqual(t, first, d.proc.exited(), "the display was restarted with the office process")
}

func TestProcessExitDuringStartup(t *testing.T) {
	p := NewProcess(Options{
		Binary:       fakeOffice(t, "exit 1"),
		Port:         1,
		ProfileDir:   t.TempDir(),
		StartTimeout: 5 * time.Second,
	})
	err := p.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.False(t, p.Status())
}

func TestProcessStartTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := NewProcess(Options{
		Binary:       fakeOffice(t, "exec sleep 30"),
		Host:         "127.0.0.1",
		Port:         port,
		ProfileDir:   t.TempDir(),
		StartTimeout: 300 * time.Millisecond,
		StopGrace:    time.Second,
	})
	err = p.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.False(t, p.Status(), "a process that never listens is stopped")
}

func TestSessionMutualExclusion(t *testing.T) {
	p := NewProcess(Options{Port: 1})
	p.Acquire()
	acquired := make(chan struct{})
	go func() {
		p.Acquire()
		close(acquired)
		p.Release()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held session")
	case <-time.After(30 * time.Millisecond):
	}
	p.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("release did not hand over the session")
	}
}

func TestDisabledDisplayIsNoop(t *testing.T) {
	d := NewDisplay(false, "", 99)
	assert.True(t, d.Status())
	assert.NoError(t, d.Start())
	assert.NoError(t, d.Restart())
	d.Stop()
	assert.Equal(t, ":99", d.Name())
}
