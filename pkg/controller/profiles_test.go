package controller

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProfilesEmptyPathYieldsEmptyMap(t *testing.T) {
	profiles, err := LoadProfiles("")
	require.NoError(t, err)
	assert.Equal(t, "default-image", profiles.ImageFor("node", "default-image"))
}

func TestLoadProfilesReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node: agent-node:latest\npython: agent-python:latest\n"), 0o644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, "agent-node:latest", profiles.ImageFor("node", "default-image"))
	assert.Equal(t, "default-image", profiles.ImageFor("ruby", "default-image"))
}

func TestImageForFallsBackOnEmptyEnvironment(t *testing.T) {
	var profiles EnvironmentProfiles
	assert.Equal(t, "default-image", profiles.ImageFor("", "default-image"))
}
