// Package resolver implements the two-way mapping between an opaque object
// ID and its on-disk path, for both the hierarchical project/epic/feature/
// task tree and the standalone task directories (§3, §4.1).
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/trellis-mcp/trellis/internal/object"
)

// Directory names used throughout the hierarchical and standalone layouts.
const (
	DirProjects   = "projects"
	DirEpics      = "epics"
	DirFeatures   = "features"
	DirTasksOpen  = "tasks-open"
	DirTasksDone  = "tasks-done"
	FileProject   = "project.md"
	FileEpic      = "epic.md"
	FileFeature   = "feature.md"
	PlanningDir   = "planning"
	timestampForm = "20060102_150405"
)

// idPattern matches a bare slug (without kind prefix): lowercase
// alphanumerics and hyphens, starting with an alphanumeric.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Sentinel errors for the taxonomy in §4.10.
var (
	ErrInvalidIDFormat = errors.New("invalid id format")
	ErrObjectNotFound  = errors.New("object not found")
	ErrAmbiguousObject = errors.New("ambiguous object")
	ErrSecurityViolation = errors.New("security violation")
)

// InvalidIDFormatError wraps ErrInvalidIDFormat with the offending kind.
type InvalidIDFormatError struct {
	Kind object.Kind
}

func (e *InvalidIDFormatError) Error() string {
	return fmt.Sprintf("invalid id format for kind %q", e.Kind)
}

func (e *InvalidIDFormatError) Unwrap() error { return ErrInvalidIDFormat }

// ObjectNotFoundError wraps ErrObjectNotFound with the kind and bare slug
// (never the full candidate paths, to satisfy the sanitizer).
type ObjectNotFoundError struct {
	Kind object.Kind
	ID   string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *ObjectNotFoundError) Unwrap() error { return ErrObjectNotFound }

// AmbiguousObjectError indicates the same ID resolved to more than one file.
type AmbiguousObjectError struct {
	ID    string
	Paths []string
}

func (e *AmbiguousObjectError) Error() string {
	return fmt.Sprintf("id %q matched %d files", e.ID, len(e.Paths))
}

func (e *AmbiguousObjectError) Unwrap() error { return ErrAmbiguousObject }

// SecurityViolationError indicates a path-traversal-shaped input was rejected
// before any filesystem access occurred.
type SecurityViolationError struct {
	Reason string
}

func (e *SecurityViolationError) Error() string {
	return fmt.Sprintf("security violation: %s", e.Reason)
}

func (e *SecurityViolationError) Unwrap() error { return ErrSecurityViolation }

// Resolver resolves object IDs to filesystem paths under a project root.
type Resolver struct {
	// ForcePlanningSubdir forces the "planning/" segment to always be
	// appended under root, used by MCP-style callers (§3). CLI callers
	// leave this false: if root already contains a "projects/" child, root
	// IS the planning directory.
	ForcePlanningSubdir bool
}

// New creates a Resolver with the given planning-subdirectory policy.
func New(forcePlanningSubdir bool) *Resolver {
	return &Resolver{ForcePlanningSubdir: forcePlanningSubdir}
}

// PlanningRoot returns the effective planning directory under root,
// applying the (b) policy decision from §4.1.
func (r *Resolver) PlanningRoot(root string) string {
	if r.ForcePlanningSubdir {
		return filepath.Join(root, PlanningDir)
	}
	if info, err := os.Stat(filepath.Join(root, DirProjects)); err == nil && info.IsDir() {
		return root
	}
	return filepath.Join(root, PlanningDir)
}

// ValidateBareID checks that a bare slug (without kind prefix) matches
// ^[a-z0-9][a-z0-9-]*$ and contains no path-traversal tokens, per §4.1(a)
// and the security checks in §4.5.
func ValidateBareID(id string) error {
	if id == "" {
		return &InvalidIDFormatError{}
	}
	if strings.Contains(id, "..") || strings.Contains(id, "~") ||
		strings.HasPrefix(id, "/") || strings.ContainsAny(id, "%\x00") {
		return &SecurityViolationError{Reason: "path-traversal-shaped identifier"}
	}
	if !idPattern.MatchString(id) {
		return &InvalidIDFormatError{}
	}
	return nil
}

// SplitID splits a wire identifier like "T-foo" or the standalone-task
// alias "task-foo" into its kind and bare slug.
func SplitID(id string) (object.Kind, string, error) {
	switch {
	case strings.HasPrefix(id, "P-"):
		return object.KindProject, strings.TrimPrefix(id, "P-"), nil
	case strings.HasPrefix(id, "E-"):
		return object.KindEpic, strings.TrimPrefix(id, "E-"), nil
	case strings.HasPrefix(id, "F-"):
		return object.KindFeature, strings.TrimPrefix(id, "F-"), nil
	case strings.HasPrefix(id, "T-"):
		return object.KindTask, strings.TrimPrefix(id, "T-"), nil
	case strings.HasPrefix(id, "task-"):
		return object.KindTask, strings.TrimPrefix(id, "task-"), nil
	default:
		return "", "", &InvalidIDFormatError{}
	}
}

// withinRoot verifies that candidate, once cleaned, is still inside root.
// This is the path-traversal guard required by §4.1(c).
func withinRoot(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", &SecurityViolationError{Reason: "could not resolve root"}
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return "", &SecurityViolationError{Reason: "could not resolve path"}
	}
	rel, err := filepath.Rel(absRoot, absCandidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &SecurityViolationError{Reason: "path escapes resolution root"}
	}
	return absCandidate, nil
}

// IDToPath locates an existing object's file by kind and bare slug.
// Tasks are searched both in the hierarchy and under the standalone
// directories, per §4.1.
func (r *Resolver) IDToPath(kind object.Kind, bareID, root string) (string, error) {
	if err := ValidateBareID(bareID); err != nil {
		return "", err
	}

	planning := r.PlanningRoot(root)

	switch kind {
	case object.KindProject:
		return r.findContainer(planning, DirProjects, "P-"+bareID, FileProject)
	case object.KindEpic:
		return r.findEpic(planning, bareID)
	case object.KindFeature:
		return r.findFeature(planning, bareID)
	case object.KindTask:
		return r.findTask(planning, bareID)
	default:
		return "", &InvalidIDFormatError{Kind: kind}
	}
}

func (r *Resolver) findContainer(planning, containerDir, dirName, file string) (string, error) {
	candidate := filepath.Join(planning, containerDir, dirName, file)
	safe, err := withinRoot(planning, candidate)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(safe); err != nil {
		return "", &ObjectNotFoundError{Kind: object.KindProject, ID: dirName}
	}
	return safe, nil
}

func (r *Resolver) findEpic(planning, bareID string) (string, error) {
	projectDirs, err := listDirs(filepath.Join(planning, DirProjects))
	if err != nil {
		return "", &ObjectNotFoundError{Kind: object.KindEpic, ID: bareID}
	}
	var matches []string
	for _, p := range projectDirs {
		candidate := filepath.Join(planning, DirProjects, p, DirEpics, "E-"+bareID, FileEpic)
		if fileExists(candidate) {
			matches = append(matches, candidate)
		}
	}
	return uniqueMatch(matches, object.KindEpic, bareID)
}

func (r *Resolver) findFeature(planning, bareID string) (string, error) {
	projectDirs, err := listDirs(filepath.Join(planning, DirProjects))
	if err != nil {
		return "", &ObjectNotFoundError{Kind: object.KindFeature, ID: bareID}
	}
	var matches []string
	for _, p := range projectDirs {
		epicDirs, err := listDirs(filepath.Join(planning, DirProjects, p, DirEpics))
		if err != nil {
			continue
		}
		for _, e := range epicDirs {
			candidate := filepath.Join(planning, DirProjects, p, DirEpics, e, DirFeatures, "F-"+bareID, FileFeature)
			if fileExists(candidate) {
				matches = append(matches, candidate)
			}
		}
	}
	return uniqueMatch(matches, object.KindFeature, bareID)
}

// findTask searches both the hierarchy and the standalone directories, per
// §4.1: "Tasks are searched both under the project hierarchy and under the
// standalone directories."
func (r *Resolver) findTask(planning, bareID string) (string, error) {
	var matches []string

	// Standalone: tasks-open/T-<id>.md or tasks-done/<ts>-T-<id>.md
	if p := findInTaskDir(filepath.Join(planning, DirTasksOpen), bareID, false); p != "" {
		matches = append(matches, p)
	}
	if p := findInTaskDir(filepath.Join(planning, DirTasksDone), bareID, true); p != "" {
		matches = append(matches, p)
	}

	// Hierarchical: walk every feature directory.
	projectDirs, _ := listDirs(filepath.Join(planning, DirProjects))
	for _, p := range projectDirs {
		epicDirs, _ := listDirs(filepath.Join(planning, DirProjects, p, DirEpics))
		for _, e := range epicDirs {
			featureDirs, _ := listDirs(filepath.Join(planning, DirProjects, p, DirEpics, e, DirFeatures))
			for _, f := range featureDirs {
				base := filepath.Join(planning, DirProjects, p, DirEpics, e, DirFeatures, f)
				if tp := findInTaskDir(filepath.Join(base, DirTasksOpen), bareID, false); tp != "" {
					matches = append(matches, tp)
				}
				if tp := findInTaskDir(filepath.Join(base, DirTasksDone), bareID, true); tp != "" {
					matches = append(matches, tp)
				}
			}
		}
	}

	return uniqueMatch(matches, object.KindTask, bareID)
}

// findInTaskDir looks for a task file for bareID inside dir. When done is
// true it searches for the timestamp-prefixed done-filename shape instead
// of the plain open shape.
func findInTaskDir(dir, bareID string, done bool) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	suffix := "T-" + bareID + ".md"
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if done {
			if strings.HasSuffix(name, "-"+suffix) && isTimestampPrefixedDone(name, suffix) {
				return filepath.Join(dir, name)
			}
		} else if name == suffix {
			return filepath.Join(dir, name)
		}
	}
	return ""
}

// isTimestampPrefixedDone checks the shape <YYYYMMDD>_<HHMMSS>-T-<id>.md.
func isTimestampPrefixedDone(name, suffix string) bool {
	prefix := strings.TrimSuffix(name, "-"+suffix)
	return len(prefix) == len(timestampForm) && donePattern.MatchString(name)
}

func uniqueMatch(matches []string, kind object.Kind, bareID string) (string, error) {
	switch len(matches) {
	case 0:
		return "", &ObjectNotFoundError{Kind: kind, ID: bareID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousObjectError{ID: bareID, Paths: matches}
	}
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
