package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordForceClaim_AppendsLineAndCreatesDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".trellis", "audit.log")
	s := New(path, nil)

	worktree := "feature/login"
	at := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordForceClaim("T-m", "done", "in-progress", &worktree, at))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"taskId":"T-m"`)
	assert.Contains(t, string(raw), `"worktree":"feature/login"`)
	assert.True(t, strings.HasSuffix(string(raw), "\n"))
}

func TestRecordForceClaim_AppendsMultipleRecords(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".trellis", "audit.log")
	s := New(path, nil)

	at := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordForceClaim("T-a", "open", "in-progress", nil, at))
	require.NoError(t, s.RecordForceClaim("T-b", "done", "in-progress", nil, at))

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "T-a", records[0].TaskID)
	assert.Equal(t, "T-b", records[1].TaskID)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestReadAll_MissingFileReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	records, err := ReadAll(filepath.Join(root, "missing", "audit.log"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPathForRoot_JoinsRelativeDefault(t *testing.T) {
	got := PathForRoot("/srv/proj", "")
	assert.Equal(t, filepath.Join("/srv/proj", DefaultPath), got)
}

func TestPathForRoot_AbsoluteOverridePassesThrough(t *testing.T) {
	got := PathForRoot("/srv/proj", "/var/log/trellis-audit.log")
	assert.Equal(t, "/var/log/trellis-audit.log", got)
}
