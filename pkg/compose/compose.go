package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Docker Compose labels.
const (
	// ComposeProjectLabel specifies the project name of the container in Docker Compose.
	ComposeProjectLabel = "com.docker.compose.project"
	// ComposeServiceLabel specifies the service name of the container in Docker Compose.
	ComposeServiceLabel = "com.docker.compose.service"
)

// composeFilenames is the lookup order for a project's compose file.
var composeFilenames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// GetServiceName extracts the service name from a container's Docker
// Compose labels, or an empty string when the label is absent.
func GetServiceName(labels map[string]string) string {
	if labels == nil {
		return ""
	}

	serviceName, ok := labels[ComposeServiceLabel]
	if !ok {
		return ""
	}

	logrus.WithFields(logrus.Fields{
		"label": ComposeServiceLabel,
		"value": serviceName,
	}).Debug("Retrieved compose service name")

	return serviceName
}

// NormalizeProjectName converts a directory name into the project name
// compose derives from it: lowercased, restricted to [a-z0-9_-], leading
// separators trimmed. Matching this is what makes label-based container
// lookups line up with projects started by a plain `docker compose up`.
func NormalizeProjectName(name string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	return strings.TrimLeft(b.String(), "_-")
}

// FindComposeFile returns the compose file for dir, honoring the compose
// filename precedence. found is false when dir holds none of the candidate
// names.
func FindComposeFile(dir string) (string, bool) {
	for _, name := range composeFilenames {
		candidate := filepath.Join(dir, name)

		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}

		return candidate, true
	}

	return "", false
}

// Service is the subset of a compose service definition PullPilot cares
// about.
type Service struct {
	Image         string `yaml:"image"`
	ContainerName string `yaml:"container_name"`
}

// File is the subset of a parsed compose file PullPilot cares about.
type File struct {
	Services map[string]Service `yaml:"services"`
}

// ParseFile reads and parses a compose file. Only the services map is
// decoded; unknown keys are ignored.
func ParseFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading compose file %q: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parsing compose file %q: %w", path, err)
	}

	return file, nil
}

// ServiceNames returns the declared service names, sorted for stable
// snapshot keys and log output.
func (f File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
