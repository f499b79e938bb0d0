package office

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/procexec"
)

// daemon is a long-running child process in its own process group.
type daemon struct {
	name string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func (d *daemon) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// exited returns a channel closed when the current process exits, or nil.
func (d *daemon) exited() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

func (d *daemon) start(argv []string, env []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	}
	procexec.SetProcessGroup(cmd)

	log.Debug().Str("daemon", d.name).Str("cmd", strings.Join(argv, " ")).Msg("starting")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", d.name, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		log.Info().Str("daemon", d.name).Int("pid", cmd.Process.Pid).AnErr("exit", err).Msg("process exited")
		close(done)
	}()
	d.cmd = cmd
	d.done = done
	log.Info().Str("daemon", d.name).Int("pid", cmd.Process.Pid).Msg("process started")
	return nil
}

// stop sends SIGTERM to the group and escalates to SIGKILL after grace.
func (d *daemon) stop(grace time.Duration) {
	d.mu.Lock()
	cmd, done := d.cmd, d.done
	d.cmd, d.done = nil, nil
	d.mu.Unlock()
	if cmd == nil {
		return
	}

	pid := cmd.Process.Pid
	if err := procexec.KillGroup(pid, syscall.SIGTERM); err != nil {
		log.Debug().Err(err).Str("daemon", d.name).Msg("sigterm")
	}
	select {
	case <-done:
		return
	case <-time.After(grace):
	}
	log.Warn().Str("daemon", d.name).Int("pid", pid).Dur("grace", grace).Msg("did not exit, killing")
	_ = procexec.KillGroup(pid, syscall.SIGKILL)
	<-done
}
