package controller

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
)

// EnvironmentProfiles maps a session's requested environment tag
// ("node", "python", "full-stack", "data-science", ...) onto the
// sandbox image it provisions, read from an operator-supplied YAML
// file so adding an environment never requires a rebuild.
type EnvironmentProfiles map[string]string

// LoadProfiles reads an environment-to-image mapping from a YAML file
// shaped like:
//
//	node: ottobot/agent-node:latest
//	python: ottobot/agent-python:latest
//
// An empty path is not an error; it yields an empty map so ImageFor
// always falls through to its default.
func LoadProfiles(path string) (EnvironmentProfiles, error) {
	if path == "" {
		return EnvironmentProfiles{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.Fatal, "read environment profiles", err)
	}
	var profiles EnvironmentProfiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, orcherrors.Wrap(orcherrors.Fatal, "parse environment profiles", err)
	}
	return profiles, nil
}

// ImageFor returns the image configured for env, or def when env is
// unset or not present in the profile set.
func (p EnvironmentProfiles) ImageFor(env, def string) string {
	if env == "" {
		return def
	}
	if image, ok := p[env]; ok {
		return image
	}
	return def
}
