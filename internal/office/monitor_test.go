package office

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	restarts atomic.Int32
	delay    time.Duration
	done     atomic.Bool
}

func (f *fakeRestarter) Restart(context.Context) error {
	time.Sleep(f.delay)
	f.restarts.Add(1)
	f.done.Store(true)
	return nil
}

func TestWithTimeoutFastCall(t *testing.T) {
	r := &fakeRestarter{}
	expired, err := WithTimeout(context.Background(), r, time.Second, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.False(t, expired)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.restarts.Load())
}

func TestWithTimeoutPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	expired, err := WithTimeout(context.Background(), &fakeRestarter{}, time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, expired)
}

func TestWithTimeoutExpiryRestartsBeforeReturn(t *testing.T) {
	r := &fakeRestarter{delay: 50 * time.Millisecond}
	expired, err := WithTimeout(context.Background(), r, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, expired)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), r.restarts.Load())
	assert.True(t, r.done.Load(), "restart finished before WithTimeout returned")
}

func TestWithTimeoutExpiryIgnoredByStuckCall(t *testing.T) {
	// fn ignores cancellation and returns on its own after the deadline
	r := &fakeRestarter{}
	expired, err := WithTimeout(context.Background(), r, 10*time.Millisecond, func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, int32(1), r.restarts.Load())
}

func TestWithTimeoutDisabled(t *testing.T) {
	r := &fakeRestarter{}
	expired, err := WithTimeout(context.Background(), r, 0, func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, expired)
	assert.Zero(t, r.restarts.Load())
}

func TestDeadlineAfterCompletionIsIgnored(t *testing.T) {
	r := &fakeRestarter{}
	cancelled := false
	m := &Monitor{target: r, timeout: time.Millisecond, cancel: func() { cancelled = true }, fired: make(chan struct{})}
	m.timer = time.NewTimer(time.Hour)
	m.timer.Stop()

	m.finish()
	m.expire()

	assert.False(t, m.disarm(), "a finished call is not reported as expired")
	assert.False(t, m.Expired())
	assert.False(t, cancelled)
	assert.Zero(t, r.restarts.Load())
}
