package resolver

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/trellis-mcp/trellis/internal/object"
)

// donePattern matches the done-task filename shape: <ts>-T-<slug>.md.
var donePattern = regexp.MustCompile(`^\d{8}_\d{6}-T-([a-z0-9][a-z0-9-]*)\.md$`)

// openTaskPattern matches the open-task filename shape: T-<slug>.md.
var openTaskPattern = regexp.MustCompile(`^T-([a-z0-9][a-z0-9-]*)\.md$`)

// PathToID is the inverse of IDToPath: given a file path, it recovers the
// object's kind and full wire ID (with kind prefix) by inspecting the
// filename and enclosing directory shape, recognizing both tasks-open and
// tasks-done layouts under either the hierarchical or standalone roots
// (§4.1).
func PathToID(path string) (object.Kind, string, error) {
	base := filepath.Base(path)
	dir := filepath.Base(filepath.Dir(path))

	switch base {
	case FileProject:
		return idFromContainerDir(filepath.Dir(path), "P-", object.KindProject)
	case FileEpic:
		return idFromContainerDir(filepath.Dir(path), "E-", object.KindEpic)
	case FileFeature:
		return idFromContainerDir(filepath.Dir(path), "F-", object.KindFeature)
	}

	if m := openTaskPattern.FindStringSubmatch(base); m != nil {
		if dir != DirTasksOpen {
			return "", "", &InvalidIDFormatError{Kind: object.KindTask}
		}
		return object.KindTask, "T-" + m[1], nil
	}

	if m := donePattern.FindStringSubmatch(base); m != nil {
		if dir != DirTasksDone {
			return "", "", &InvalidIDFormatError{Kind: object.KindTask}
		}
		return object.KindTask, "T-" + m[1], nil
	}

	return "", "", fmt.Errorf("path %q does not match any recognized object filename shape", filepath.Base(path))
}

func idFromContainerDir(dir, prefix string, kind object.Kind) (object.Kind, string, error) {
	name := filepath.Base(dir)
	if !strings.HasPrefix(name, prefix) {
		return "", "", &InvalidIDFormatError{Kind: kind}
	}
	return kind, name, nil
}
