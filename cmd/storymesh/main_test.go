package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoreCheck(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dragon.yml"),
		[]byte("name: Dragon\ncontext: A dragon sleeps under the hill.\nkeywords: [dragon]\n"), 0o600))

	out, err := runCmd(t, "lore", "check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ok  Dragon (1 keywords, categories: [common])")
	assert.Contains(t, out, "1 valid entries")
}

func TestLoreCheck_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: Broken\n"), 0o600))

	out, err := runCmd(t, "lore", "check", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	assert.Contains(t, out, "0 valid entries")
}

func TestLoreCheck_RequiresDir(t *testing.T) {
	_, err := runCmd(t, "lore", "check")
	require.Error(t, err)
}

func TestServe_InvalidConfig(t *testing.T) {
	t.Setenv("STORYMESH_PROVIDER", "llama")
	_, err := runCmd(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}
