package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "pdf", formatOf("out/Report.PDF"))
	assert.Equal(t, "docy", formatOf("s3://bucket/a/b.docy"))
	assert.Equal(t, "", formatOf("noext"))
}

func TestParseParams(t *testing.T) {
	p, err := parseParams([]string{"PageRange=1-2", " Quality =90", "Empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PageRange": "1-2", "Quality": "90", "Empty": ""}, p)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "convert", "metadata", "formats"} {
		assert.True(t, names[want], want)
	}
	set, _, err := rootCmd.Find([]string{"metadata", "set"})
	require.NoError(t, err)
	assert.Equal(t, "set", set.Name())
}
