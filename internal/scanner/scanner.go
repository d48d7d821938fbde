// Package scanner walks the planning directory tree and yields the
// Project/Epic/Feature/Task objects it finds, hierarchical and standalone
// alike, tolerating malformed files by skipping and logging them rather
// than failing the whole scan (§4.4).
package scanner

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

// ErrInvalidScope is returned by FilterByScope when scopeID has no
// recognized kind prefix or fails bare-ID validation.
var ErrInvalidScope = errors.New("invalid scope")

// InvalidScopeError wraps ErrInvalidScope with the offending scope id.
type InvalidScopeError struct {
	ScopeID string
}

func (e *InvalidScopeError) Error() string {
	return "invalid scope: " + e.ScopeID
}

func (e *InvalidScopeError) Unwrap() error { return ErrInvalidScope }

// SkippedFile records a file the scanner could not parse. Scanners never
// fail outright on a malformed file; instead they collect it here so a
// caller performing validation can fold it into its own error aggregate.
type SkippedFile struct {
	Path   string
	Reason error
}

// Scanner walks a planning tree and parses every recognized object file.
type Scanner struct {
	resolver *resolver.Resolver
	logger   *slog.Logger
}

// New creates a Scanner. logger may be nil, in which case a discard logger
// is used.
func New(res *resolver.Resolver, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scanner{resolver: res, logger: logger}
}

// ScanAll walks root and returns every Project, Epic, Feature, and Task it
// can parse, hierarchical and standalone, in no particular order (§4.4:
// "intentionally unsorted — the caller sorts"). Skipped files are returned
// alongside so validation callers can fold them into their own aggregate.
func (s *Scanner) ScanAll(root string) ([]*object.Object, []SkippedFile) {
	planning := s.resolver.PlanningRoot(root)

	var objects []*object.Object
	var skipped []SkippedFile

	walk := func(path string) {
		obj, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("skipping malformed object file", "path", path, "error", err)
			skipped = append(skipped, SkippedFile{Path: path, Reason: err})
			return
		}
		objects = append(objects, obj)
	}

	projectDirs, _ := listDirs(filepath.Join(planning, resolver.DirProjects))
	for _, p := range projectDirs {
		projectDir := filepath.Join(planning, resolver.DirProjects, p)
		if path := filepath.Join(projectDir, resolver.FileProject); fileExists(path) {
			walk(path)
		}

		epicDirs, _ := listDirs(filepath.Join(projectDir, resolver.DirEpics))
		for _, e := range epicDirs {
			epicDir := filepath.Join(projectDir, resolver.DirEpics, e)
			if path := filepath.Join(epicDir, resolver.FileEpic); fileExists(path) {
				walk(path)
			}

			featureDirs, _ := listDirs(filepath.Join(epicDir, resolver.DirFeatures))
			for _, f := range featureDirs {
				featureDir := filepath.Join(epicDir, resolver.DirFeatures, f)
				if path := filepath.Join(featureDir, resolver.FileFeature); fileExists(path) {
					walk(path)
				}
				s.walkTaskDirs(featureDir, walk)
			}
		}
	}

	s.walkTaskDirs(planning, walk)

	return objects, skipped
}

// ScanTasks is ScanAll restricted to Task objects.
func (s *Scanner) ScanTasks(root string) ([]*object.Object, []SkippedFile) {
	all, skipped := s.ScanAll(root)
	var tasks []*object.Object
	for _, o := range all {
		if o.Kind == object.KindTask {
			tasks = append(tasks, o)
		}
	}
	return tasks, skipped
}

// FilterByScope narrows a scan to the tasks reachable from scopeID, per
// §4.4's per-kind containment rules:
//
//	P-<id>: every task in the project's hierarchy, plus all standalone tasks.
//	E-<id>: every task within the epic and its features (standalone excluded).
//	F-<id>: only the tasks directly inside the feature.
func (s *Scanner) FilterByScope(scopeID, root string) ([]*object.Object, []SkippedFile, error) {
	kind, bareID, err := resolver.SplitID(scopeID)
	if err != nil {
		return nil, nil, &InvalidScopeError{ScopeID: scopeID}
	}
	if err := resolver.ValidateBareID(bareID); err != nil {
		return nil, nil, &InvalidScopeError{ScopeID: scopeID}
	}

	planning := s.resolver.PlanningRoot(root)

	switch kind {
	case object.KindProject:
		return s.scanProjectScope(planning, bareID)
	case object.KindEpic:
		return s.scanEpicScope(planning, bareID)
	case object.KindFeature:
		return s.scanFeatureScope(planning, bareID)
	default:
		return nil, nil, &InvalidScopeError{ScopeID: scopeID}
	}
}

func (s *Scanner) scanProjectScope(planning, bareID string) ([]*object.Object, []SkippedFile, error) {
	var objects []*object.Object
	var skipped []SkippedFile

	walk := func(path string) {
		obj, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("skipping malformed object file", "path", path, "error", err)
			skipped = append(skipped, SkippedFile{Path: path, Reason: err})
			return
		}
		if obj.Kind == object.KindTask {
			objects = append(objects, obj)
		}
	}

	projectDir := filepath.Join(planning, resolver.DirProjects, "P-"+bareID)
	if !dirExists(projectDir) {
		return nil, nil, &resolver.ObjectNotFoundError{Kind: object.KindProject, ID: bareID}
	}

	epicDirs, _ := listDirs(filepath.Join(projectDir, resolver.DirEpics))
	for _, e := range epicDirs {
		epicDir := filepath.Join(projectDir, resolver.DirEpics, e)
		featureDirs, _ := listDirs(filepath.Join(epicDir, resolver.DirFeatures))
		for _, f := range featureDirs {
			s.walkTaskDirs(filepath.Join(epicDir, resolver.DirFeatures, f), walk)
		}
	}

	s.walkTaskDirs(planning, walk)

	return objects, skipped, nil
}

func (s *Scanner) scanEpicScope(planning, bareID string) ([]*object.Object, []SkippedFile, error) {
	var objects []*object.Object
	var skipped []SkippedFile

	walk := func(path string) {
		obj, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("skipping malformed object file", "path", path, "error", err)
			skipped = append(skipped, SkippedFile{Path: path, Reason: err})
			return
		}
		if obj.Kind == object.KindTask {
			objects = append(objects, obj)
		}
	}

	epicDir, err := findEpicDirAnywhere(planning, bareID)
	if err != nil {
		return nil, nil, err
	}

	featureDirs, _ := listDirs(filepath.Join(epicDir, resolver.DirFeatures))
	for _, f := range featureDirs {
		s.walkTaskDirs(filepath.Join(epicDir, resolver.DirFeatures, f), walk)
	}

	return objects, skipped, nil
}

func (s *Scanner) scanFeatureScope(planning, bareID string) ([]*object.Object, []SkippedFile, error) {
	var objects []*object.Object
	var skipped []SkippedFile

	walk := func(path string) {
		obj, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("skipping malformed object file", "path", path, "error", err)
			skipped = append(skipped, SkippedFile{Path: path, Reason: err})
			return
		}
		if obj.Kind == object.KindTask {
			objects = append(objects, obj)
		}
	}

	featureDir, err := findFeatureDirAnywhere(planning, bareID)
	if err != nil {
		return nil, nil, err
	}

	s.walkTaskDirs(featureDir, walk)

	return objects, skipped, nil
}

// walkTaskDirs invokes walk on every file found in dir's tasks-open and
// tasks-done children.
func (s *Scanner) walkTaskDirs(dir string, walk func(path string)) {
	for _, taskDir := range []string{resolver.DirTasksOpen, resolver.DirTasksDone} {
		entries, err := os.ReadDir(filepath.Join(dir, taskDir))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			walk(filepath.Join(dir, taskDir, entry.Name()))
		}
	}
}

func (s *Scanner) parseFile(path string) (*object.Object, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return object.Parse(raw, path)
}

func findEpicDirAnywhere(planning, bareID string) (string, error) {
	projectDirs, err := listDirs(filepath.Join(planning, resolver.DirProjects))
	if err != nil {
		return "", &resolver.ObjectNotFoundError{Kind: object.KindEpic, ID: bareID}
	}
	var matches []string
	for _, p := range projectDirs {
		candidate := filepath.Join(planning, resolver.DirProjects, p, resolver.DirEpics, "E-"+bareID)
		if dirExists(candidate) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return "", &resolver.ObjectNotFoundError{Kind: object.KindEpic, ID: bareID}
	case 1:
		return matches[0], nil
	default:
		return "", &resolver.AmbiguousObjectError{ID: bareID, Paths: matches}
	}
}

func findFeatureDirAnywhere(planning, bareID string) (string, error) {
	projectDirs, err := listDirs(filepath.Join(planning, resolver.DirProjects))
	if err != nil {
		return "", &resolver.ObjectNotFoundError{Kind: object.KindFeature, ID: bareID}
	}
	var matches []string
	for _, p := range projectDirs {
		epicDirs, err := listDirs(filepath.Join(planning, resolver.DirProjects, p, resolver.DirEpics))
		if err != nil {
			continue
		}
		for _, e := range epicDirs {
			candidate := filepath.Join(planning, resolver.DirProjects, p, resolver.DirEpics, e, resolver.DirFeatures, "F-"+bareID)
			if dirExists(candidate) {
				matches = append(matches, candidate)
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", &resolver.ObjectNotFoundError{Kind: object.KindFeature, ID: bareID}
	case 1:
		return matches[0], nil
	default:
		return "", &resolver.AmbiguousObjectError{ID: bareID, Paths: matches}
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

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
