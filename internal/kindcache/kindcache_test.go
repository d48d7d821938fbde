package kindcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInferKind_NoFilesystemAccess(t *testing.T) {
	kind, err := InferKind("T-anything-not-on-disk")
	require.NoError(t, err)
	assert.Equal(t, object.KindTask, kind)
}

func TestInferKind_InvalidPrefix(t *testing.T) {
	_, err := InferKind("X-foo")
	assert.Error(t, err)
}

func TestInferWithValidation_CacheHit(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeFile(t, filepath.Join(planning, resolver.DirTasksOpen, "T-foo.md"), "---\n---\n")

	res := resolver.New(false)
	cache := New(10, res)

	r1 := cache.InferWithValidation("T-foo", root)
	require.NoError(t, r1.Err)
	assert.Equal(t, 1, cache.Len())

	r2 := cache.InferWithValidation("T-foo", root)
	require.NoError(t, r2.Err)
	assert.Equal(t, r1.FilePath, r2.FilePath)
}

func TestInferWithValidation_InvalidatesOnMtimeChange(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	path := filepath.Join(planning, resolver.DirTasksOpen, "T-foo.md")
	writeFile(t, path, "---\n---\n")

	res := resolver.New(false)
	cache := New(10, res)

	first := cache.InferWithValidation("T-foo", root)
	require.NoError(t, first.Err)

	// Simulate a filesystem edit: bump the mtime forward.
	newTime := first.FileModTime.Add(time.Hour)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	second := cache.InferWithValidation("T-foo", root)
	require.NoError(t, second.Err)
	assert.True(t, second.FileModTime.Equal(newTime))
}

func TestInferWithValidation_NotFound(t *testing.T) {
	root := t.TempDir()
	res := resolver.New(false)
	cache := New(10, res)

	result := cache.InferWithValidation("T-missing", root)
	assert.Error(t, result.Err)
}

func TestInferWithValidation_TaskAliasAndPrefixShareCacheKey(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeFile(t, filepath.Join(planning, resolver.DirTasksOpen, "T-foo.md"), "---\n---\n")

	res := resolver.New(false)
	cache := New(10, res)

	cache.InferWithValidation("T-foo", root)
	before := cache.Len()
	cache.InferWithValidation("task-foo", root)
	assert.Equal(t, before, cache.Len())
}

func TestPurge(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeFile(t, filepath.Join(planning, resolver.DirTasksOpen, "T-foo.md"), "---\n---\n")

	res := resolver.New(false)
	cache := New(10, res)
	cache.InferWithValidation("T-foo", root)
	require.Equal(t, 1, cache.Len())

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}
