package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrophysimWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--users", "1000", "--rounds", "3", "--seed", "42", "--out", dir})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(dir, trophyFile))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, changesFile))
	require.NoError(t, err)

	// thousands separators come from the message printer
	assert.Contains(t, out.String(), "1,500 matches between 1,000 players")
	assert.Contains(t, out.String(), "95%")
}

func TestTrophysimWithoutChanges(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--users", "10", "--rounds", "1", "--seed", "1", "--out", dir, "--no-changes"})
	require.NoError(t, cmd.Execute())

	_, err := os.Stat(filepath.Join(dir, changesFile))
	assert.True(t, os.IsNotExist(err))
}

func TestTrophysimRejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	require.Error(t, cmd.Execute())
}
