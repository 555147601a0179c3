package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRequiresConfigPath(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"address", "port", "add-latency"} {
		require.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "a", cmd.Flags().Lookup("address").Shorthand)
	assert.Equal(t, "p", cmd.Flags().Lookup("port").Shorthand)
}

func TestRootCommandRejectsDirectoryConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{t.TempDir()})
	assert.Error(t, cmd.Execute())
}
