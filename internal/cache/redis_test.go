package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewResultsRejectsBadURL(t *testing.T) {
	_, err := NewResults(context.Background(), "not-a-url", time.Minute)
	assert.Error(t, err)
}

func TestNewResultsUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewResults(ctx, "redis://127.0.0.1:1/0", time.Minute)
	assert.Error(t, err)
}

func TestResultKeyNamespace(t *testing.T) {
	r := &Results{}
	assert.Equal(t, "docbroker:result:abc", r.resultKey("abc"))
}
