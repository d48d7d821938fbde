package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trellis-mcp/trellis/internal/object"
)

// ResolvePathForNew constructs the destination path for a new object,
// creating parent directories as needed (§4.1). For tasks, status selects
// tasks-open vs tasks-done. completedAt is only used when status is done,
// to compute the timestamp-prefixed filename.
func (r *Resolver) ResolvePathForNew(kind object.Kind, bareID string, parentID *string, status object.Status, root string, completedAt time.Time) (string, error) {
	if err := ValidateBareID(bareID); err != nil {
		return "", err
	}
	planning := r.PlanningRoot(root)

	var dir, file string
	switch kind {
	case object.KindProject:
		dir = filepath.Join(planning, DirProjects, "P-"+bareID)
		file = FileProject
	case object.KindEpic:
		if parentID == nil {
			return "", fmt.Errorf("epic requires a parent project id")
		}
		projectDir, err := r.findProjectDir(planning, *parentID)
		if err != nil {
			return "", err
		}
		dir = filepath.Join(projectDir, DirEpics, "E-"+bareID)
		file = FileEpic
	case object.KindFeature:
		if parentID == nil {
			return "", fmt.Errorf("feature requires a parent epic id")
		}
		epicDir, err := r.findEpicDirAnywhere(planning, *parentID)
		if err != nil {
			return "", err
		}
		dir = filepath.Join(epicDir, DirFeatures, "F-"+bareID)
		file = FileFeature
	case object.KindTask:
		return r.resolveTaskPathForNew(planning, bareID, parentID, status, completedAt)
	default:
		return "", &InvalidIDFormatError{Kind: kind}
	}

	safe, err := withinRoot(planning, filepath.Join(dir, file))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}
	return safe, nil
}

func (r *Resolver) resolveTaskPathForNew(planning, bareID string, parentID *string, status object.Status, completedAt time.Time) (string, error) {
	var baseDir string
	if parentID == nil {
		baseDir = planning
	} else {
		featureDir, err := r.findFeatureDirAnywhere(planning, *parentID)
		if err != nil {
			return "", err
		}
		baseDir = featureDir
	}

	var taskDir, filename string
	if status == object.StatusDone {
		taskDir = DirTasksDone
		filename = completedAt.UTC().Format(timestampForm) + "-T-" + bareID + ".md"
	} else {
		taskDir = DirTasksOpen
		filename = "T-" + bareID + ".md"
	}

	candidate := filepath.Join(baseDir, taskDir, filename)
	safe, err := withinRoot(planning, candidate)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(safe), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}
	return safe, nil
}

// findProjectDir locates a project's directory (not its project.md file) by
// ID, for use as the parent directory of a new epic.
func (r *Resolver) findProjectDir(planning, parentProjectID string) (string, error) {
	_, bareID, err := SplitID(parentProjectID)
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(planning, DirProjects, "P-"+bareID)
	if info, err := os.Stat(candidate); err != nil || !info.IsDir() {
		return "", &ObjectNotFoundError{Kind: object.KindProject, ID: bareID}
	}
	return candidate, nil
}

// findEpicDirAnywhere locates an epic's directory by walking all projects.
func (r *Resolver) findEpicDirAnywhere(planning, parentEpicID string) (string, error) {
	_, bareID, err := SplitID(parentEpicID)
	if err != nil {
		return "", err
	}
	projectDirs, err := listDirs(filepath.Join(planning, DirProjects))
	if err != nil {
		return "", &ObjectNotFoundError{Kind: object.KindEpic, ID: bareID}
	}
	var matches []string
	for _, p := range projectDirs {
		candidate := filepath.Join(planning, DirProjects, p, DirEpics, "E-"+bareID)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return "", &ObjectNotFoundError{Kind: object.KindEpic, ID: bareID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousObjectError{ID: bareID, Paths: matches}
	}
}

// findFeatureDirAnywhere locates a feature's directory by walking all
// projects and epics.
func (r *Resolver) findFeatureDirAnywhere(planning, parentFeatureID string) (string, error) {
	_, bareID, err := SplitID(parentFeatureID)
	if err != nil {
		return "", err
	}
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
			candidate := filepath.Join(planning, DirProjects, p, DirEpics, e, DirFeatures, "F-"+bareID)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				matches = append(matches, candidate)
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", &ObjectNotFoundError{Kind: object.KindFeature, ID: bareID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousObjectError{ID: bareID, Paths: matches}
	}
}
