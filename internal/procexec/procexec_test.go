//go:build unix

package procexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerCapturesStreams(t *testing.T) {
	r := NewExecRunner()
	res, err := r.Run(context.Background(), Command{
		Path: "sh",
		Args: []string{"-c", "printf out; printf err >&2; exit 3"},
	})
	require.NoError(t, err, "non-zero exit is reported in the result")
	assert.Equal(t, "out", string(res.Stdout))
	assert.Equal(t, "err", string(res.Stderr))
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecRunnerKillsGroupOnCancel(t *testing.T) {
	r := NewExecRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	// the child sleep keeps the pipes open unless the whole group dies
	_, err := r.Run(ctx, Command{Path: "sh", Args: []string{"-c", "sleep 10 & sleep 10"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Command{Path: "/nonexistent/docbroker-binary"})
	assert.Error(t, err)
}

func TestEnviron(t *testing.T) {
	assert.Nil(t, Environ(nil))
	env := Environ(map[string]string{"DOCBROKER_TEST": "1"})
	assert.Contains(t, env, "DOCBROKER_TEST=1")
}
