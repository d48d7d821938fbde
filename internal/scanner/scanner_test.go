package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

const fixtureBody = `---
kind: %s
id: %s
status: %s
title: Sample
priority: normal
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "1.1"
---
Body text.
`

func writeObject(t *testing.T, path, kind, id, status string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := fmt.Sprintf(fixtureBody, kind, id, status)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildTree(t *testing.T, root string) {
	t.Helper()
	planning := filepath.Join(root, resolver.PlanningDir)

	writeObject(t, filepath.Join(planning, resolver.DirProjects, "P-demo", resolver.FileProject), "project", "P-demo", "in-progress")
	writeObject(t, filepath.Join(planning, resolver.DirProjects, "P-demo", resolver.DirEpics, "E-auth", resolver.FileEpic), "epic", "E-auth", "in-progress")
	writeObject(t, filepath.Join(planning, resolver.DirProjects, "P-demo", resolver.DirEpics, "E-auth", resolver.DirFeatures, "F-login", resolver.FileFeature), "feature", "F-login", "in-progress")
	writeObject(t, filepath.Join(planning, resolver.DirProjects, "P-demo", resolver.DirEpics, "E-auth", resolver.DirFeatures, "F-login", resolver.DirTasksOpen, "T-form.md"), "task", "T-form", "open")
	writeObject(t, filepath.Join(planning, resolver.DirTasksOpen, "T-standalone.md"), "task", "T-standalone", "open")
}

func TestScanAll_FindsEveryObject(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	s := New(resolver.New(false), nil)
	objects, skipped := s.ScanAll(root)

	assert.Empty(t, skipped)
	assert.Len(t, objects, 5)
}

func TestScanTasks_OnlyTasks(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	s := New(resolver.New(false), nil)
	tasks, skipped := s.ScanTasks(root)

	assert.Empty(t, skipped)
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, object.KindTask, task.Kind)
	}
}

func TestScanAll_SkipsMalformedFileWithoutFailing(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	planning := filepath.Join(root, resolver.PlanningDir)
	garbage := filepath.Join(planning, resolver.DirTasksOpen, "T-broken.md")
	require.NoError(t, os.WriteFile(garbage, []byte("not frontmatter at all"), 0o644))

	s := New(resolver.New(false), nil)
	objects, skipped := s.ScanAll(root)

	assert.Len(t, objects, 5)
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0].Path, "T-broken.md")
}

func TestFilterByScope_Project_IncludesStandalone(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	s := New(resolver.New(false), nil)
	tasks, skipped, err := s.FilterByScope("P-demo", root)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Len(t, tasks, 2)
}

func TestFilterByScope_Epic_ExcludesStandalone(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	s := New(resolver.New(false), nil)
	tasks, _, err := s.FilterByScope("E-auth", root)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "T-form", tasks[0].ID)
}

func TestFilterByScope_Feature_OnlyDirectTasks(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root)

	s := New(resolver.New(false), nil)
	tasks, _, err := s.FilterByScope("F-login", root)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "T-form", tasks[0].ID)
}

func TestFilterByScope_InvalidScope(t *testing.T) {
	root := t.TempDir()
	s := New(resolver.New(false), nil)
	_, _, err := s.FilterByScope("X-bogus", root)
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestFilterByScope_ProjectNotFound(t *testing.T) {
	root := t.TempDir()
	s := New(resolver.New(false), nil)
	_, _, err := s.FilterByScope("P-missing", root)
	assert.ErrorIs(t, err, resolver.ErrObjectNotFound)
}
