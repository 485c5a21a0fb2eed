// Package discovery locates Docker Compose projects, either from an
// explicit list file or by scanning a base directory.
package discovery

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pullpilot/pullpilot/pkg/compose"
	"github.com/pullpilot/pullpilot/pkg/config"
)

// Errors fatal to the whole run.
var (
	// ErrNoProjects indicates that discovery produced an empty project set.
	ErrNoProjects = errors.New("no compose projects found")
	// ErrListUnreadable indicates an explicit projects file that could not be read.
	ErrListUnreadable = errors.New("projects file not readable")
)

// Project is one discovered compose project.
type Project struct {
	// Dir is the absolute project directory.
	Dir string
	// ComposeFile is the absolute path of the compose file picked by precedence.
	ComposeFile string
	// Name is the directory base name.
	Name string
	// DisplayName is Name, suffixed with PathHash when Name collides with
	// another discovered project.
	DisplayName string
	// PathHash is the first 8 hex chars of the SHA-256 of Dir.
	PathHash string
}

// ComposeProjectName returns the name compose assigns to the project on
// disk, used to match the com.docker.compose.project container label.
func (p Project) ComposeProjectName() string {
	return compose.NormalizeProjectName(p.Name)
}

// Discover returns the ordered project set for a run. When
// COMPOSE_PROJECTS_FILE is set, only its entries are used; otherwise
// BASE_DIR is scanned. Zero projects is a fatal error either way.
func Discover(cfg config.Config) ([]Project, error) {
	var (
		projects []Project
		err      error
	)

	if cfg.ProjectsFile != "" {
		projects, err = fromListFile(cfg.ProjectsFile)
	} else {
		projects, err = scan(cfg.BaseDir, cfg.ExcludePatterns)
	}

	if err != nil {
		return nil, err
	}

	if len(projects) == 0 {
		return nil, ErrNoProjects
	}

	assignDisplayNames(projects)

	return projects, nil
}

// fromListFile reads one project directory per line. Blank lines and
// #-comments are skipped. Listed directories without a compose file are
// skipped with a warning, since they were asked for explicitly.
func fromListFile(path string) ([]Project, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrListUnreadable, path, err)
	}
	defer file.Close()

	var projects []Project

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		dir, err := filepath.Abs(line)
		if err != nil {
			logrus.WithError(err).WithField("dir", line).Warn("Skipping unresolvable project path")

			continue
		}

		composeFile, found := compose.FindComposeFile(dir)
		if !found {
			logrus.WithField("dir", dir).Warn("Listed project has no compose file, skipping")

			continue
		}

		projects = append(projects, newProject(dir, composeFile))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrListUnreadable, path, err)
	}

	return projects, nil
}

// scan walks baseDir and collects every directory holding a compose file,
// pruning directories matched by the exclusion patterns. Unreadable
// subtrees are skipped, not fatal.
func scan(baseDir string, excludePatterns []string) ([]Project, error) {
	root, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base dir %q: %w", baseDir, err)
	}

	var projects []Project

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			logrus.WithError(err).WithField("path", path).Debug("Skipping unreadable path")

			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if !entry.IsDir() {
			return nil
		}

		if path != root {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = entry.Name()
			}

			if excluded(filepath.ToSlash(rel), excludePatterns) {
				logrus.WithField("dir", path).Debug("Excluded by pattern")

				return fs.SkipDir
			}
		}

		if composeFile, found := compose.FindComposeFile(path); found {
			projects = append(projects, newProject(path, composeFile))
		}

		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scanning %q: %w", root, walkErr)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Dir < projects[j].Dir })

	return projects, nil
}

// excluded reports whether a directory, given relative to the scan root,
// matches any exclusion pattern. A plain pattern is a shell glob applied to
// the directory base name; a pattern containing a path separator is matched
// against the same number of trailing path segments, so "stacks/archive"
// excludes an archive directory under any stacks directory at any depth.
// A match prunes the whole subtree.
func excluded(rel string, patterns []string) bool {
	base := filepath.Base(rel)

	for _, pattern := range patterns {
		if strings.ContainsRune(pattern, '/') {
			if matchesTail(pattern, rel) {
				return true
			}

			continue
		}

		if base == pattern {
			return true
		}

		if ok, err := filepath.Match(pattern, base); err == nil && ok {
			return true
		}
	}

	return false
}

// matchesTail matches a multi-segment glob against the same number of
// trailing segments of rel.
func matchesTail(pattern, rel string) bool {
	patSegs := strings.Split(pattern, "/")
	relSegs := strings.Split(rel, "/")

	if len(patSegs) > len(relSegs) {
		return false
	}

	tail := strings.Join(relSegs[len(relSegs)-len(patSegs):], "/")
	if tail == pattern {
		return true
	}

	ok, err := filepath.Match(pattern, tail)

	return err == nil && ok
}

func newProject(dir, composeFile string) Project {
	return Project{
		Dir:         dir,
		ComposeFile: composeFile,
		Name:        filepath.Base(dir),
		PathHash:    pathHash(dir),
	}
}

// pathHash returns the first 8 hex chars of the SHA-256 of the absolute
// project path, a stable short discriminator for same-named directories.
func pathHash(dir string) string {
	sum := sha256.Sum256([]byte(dir))

	return hex.EncodeToString(sum[:])[:8]
}

// assignDisplayNames sets DisplayName to the base name, suffixing the path
// hash whenever two projects share a base name so logs, log file names and
// the email summary stay unambiguous.
func assignDisplayNames(projects []Project) {
	seen := make(map[string]int, len(projects))
	for _, p := range projects {
		seen[p.Name]++
	}

	for i := range projects {
		if seen[projects[i].Name] > 1 {
			projects[i].DisplayName = projects[i].Name + "-" + projects[i].PathHash
		} else {
			projects[i].DisplayName = projects[i].Name
		}
	}
}
