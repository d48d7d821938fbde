package claimengine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
	"github.com/trellis-mcp/trellis/internal/scanner"
)

const fixtureTemplate = `---
kind: task
id: %s
status: %s
title: sample
priority: %s
created: %s
updated: %s
schema_version: "1.1"
---
### Log
(empty)
`

func writeTask(t *testing.T, path, id, status, priority, created string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := fmt.Sprintf(fixtureTemplate, id, status, priority, created, created)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type fakeAudit struct {
	called bool
	fail   bool
}

func (f *fakeAudit) RecordForceClaim(taskID, originalStatus, newStatus string, worktree *string, at time.Time) error {
	f.called = true
	if f.fail {
		return fmt.Errorf("audit sink unavailable")
	}
	return nil
}

func newEngine(audit AuditRecorder) (*Engine, *resolver.Resolver) {
	res := resolver.New(false)
	sc := scanner.New(res, nil)
	return New(sc, res, audit, nil), res
}

func TestRequest_Validate_MutualExclusivity(t *testing.T) {
	req := Request{Scope: "P-x", TaskID: "T-y"}
	err := req.Validate()
	require.NotNil(t, err)
	assert.Equal(t, errtax.CodeMutualExclusivityViolation, err.Code)
}

func TestRequest_Validate_ForceRequiresTaskID(t *testing.T) {
	req := Request{ForceClaim: true}
	err := req.Validate()
	require.NotNil(t, err)
	assert.Equal(t, errtax.CodeMutualExclusivityViolation, err.Code)
}

func TestRequest_Validate_BadScopeShape(t *testing.T) {
	req := Request{Scope: "bogus"}
	err := req.Validate()
	require.NotNil(t, err)
	assert.Equal(t, errtax.CodeInvalidScope, err.Code)
}

func TestClaim_PriorityModeWithTies(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-a.md"), "T-a", "open", "high", "2025-01-02T10:00:00Z")
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-b.md"), "T-b", "open", "high", "2025-01-01T10:00:00Z")
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-c.md"), "T-c", "open", "normal", "2025-01-01T09:00:00Z")

	e, _ := newEngine(nil)
	claimed, err := e.Claim(Request{ProjectRoot: root})
	require.NoError(t, err)
	assert.Equal(t, "T-b", claimed.ID)
	assert.Equal(t, object.StatusInProgress, claimed.Status)
}

func TestClaim_ScopeRestrictsCandidates(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirProjects, "P-x", resolver.DirEpics, "E-y", resolver.DirFeatures, "F-z", resolver.DirTasksOpen, "T-q.md"), "T-q", "open", "high", "2025-01-02T10:00:00Z")
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-s.md"), "T-s", "open", "high", "2025-01-01T10:00:00Z")

	e, _ := newEngine(nil)

	claimed, err := e.Claim(Request{ProjectRoot: root, Scope: "E-y"})
	require.NoError(t, err)
	assert.Equal(t, "T-q", claimed.ID)
}

func TestClaim_ScopeProjectIncludesStandalone(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirProjects, "P-x", resolver.DirEpics, "E-y", resolver.DirFeatures, "F-z", resolver.DirTasksOpen, "T-q.md"), "T-q", "open", "high", "2025-01-02T10:00:00Z")
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-s.md"), "T-s", "open", "high", "2025-01-01T10:00:00Z")

	e, _ := newEngine(nil)

	claimed, err := e.Claim(Request{ProjectRoot: root, Scope: "P-x"})
	require.NoError(t, err)
	assert.Equal(t, "T-s", claimed.ID)
}

func TestClaim_NoAvailableTask(t *testing.T) {
	root := t.TempDir()
	e, _ := newEngine(nil)
	_, err := e.Claim(Request{ProjectRoot: root})
	require.Error(t, err)
	taxErr, ok := err.(*errtax.Error)
	require.True(t, ok)
	assert.Equal(t, errtax.CodeNoAvailableTask, taxErr.Code)
}

func TestClaim_DirectMode_AlreadyInProgress(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-a.md"), "T-a", "in-progress", "normal", "2025-01-01T10:00:00Z")

	e, _ := newEngine(nil)
	_, err := e.Claim(Request{ProjectRoot: root, TaskID: "T-a"})
	require.Error(t, err)
	taxErr, ok := err.(*errtax.Error)
	require.True(t, ok)
	assert.Equal(t, errtax.CodeInvalidStatusForCompletion, taxErr.Code)
}

func TestClaim_ForceClaimOverDoneRequiresForceFlag(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirTasksDone, "20250101_100000-T-k.md"), "T-k", "done", "normal", "2025-01-01T10:00:00Z")

	e, _ := newEngine(nil)
	_, err := e.Claim(Request{ProjectRoot: root, TaskID: "T-k"})
	require.Error(t, err)
	taxErr, ok := err.(*errtax.Error)
	require.True(t, ok)
	assert.Equal(t, errtax.CodeInvalidStatusForCompletion, taxErr.Code)
}

func TestClaim_ForceClaimOverDoneSucceedsAndAudits(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirTasksDone, "20250101_100000-T-k.md"), "T-k", "done", "normal", "2025-01-01T10:00:00Z")

	audit := &fakeAudit{}
	e, _ := newEngine(audit)
	claimed, err := e.Claim(Request{ProjectRoot: root, TaskID: "T-k", ForceClaim: true})
	require.NoError(t, err)
	assert.Equal(t, object.StatusInProgress, claimed.Status)
	assert.True(t, audit.called)
}

func TestClaim_ForceClaimAbortsIfAuditFails(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirTasksDone, "20250101_100000-T-k.md"), "T-k", "done", "normal", "2025-01-01T10:00:00Z")

	audit := &fakeAudit{fail: true}
	e, _ := newEngine(audit)
	_, err := e.Claim(Request{ProjectRoot: root, TaskID: "T-k", ForceClaim: true})
	require.Error(t, err)
	assert.True(t, audit.called)

	raw, readErr := os.ReadFile(filepath.Join(planning, resolver.DirTasksDone, "20250101_100000-T-k.md"))
	require.NoError(t, readErr)
	parsed, parseErr := object.Parse(raw, "")
	require.NoError(t, parseErr)
	assert.Equal(t, object.StatusDone, parsed.Status)
}

func TestClaim_PrerequisitesNotComplete(t *testing.T) {
	root := t.TempDir()
	planning := filepath.Join(root, resolver.PlanningDir)
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-h.md"), "T-h", "open", "normal", "2025-01-01T10:00:00Z")
	writeTask(t, filepath.Join(planning, resolver.DirTasksOpen, "T-dep.md"), "T-dep", "open", "normal", "2025-01-01T10:00:00Z")

	// Add a prerequisite by hand, since writeTask's fixture has no prereq field.
	path := filepath.Join(planning, resolver.DirTasksOpen, "T-h.md")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	obj, err := object.Parse(raw, path)
	require.NoError(t, err)
	obj.Prerequisites = []string{"T-dep"}
	require.NoError(t, os.WriteFile(path, object.Serialize(obj), 0o644))

	e, _ := newEngine(nil)
	_, err = e.Claim(Request{ProjectRoot: root, TaskID: "T-h"})
	require.Error(t, err)
	taxErr, ok := err.(*errtax.Error)
	require.True(t, ok)
	assert.Equal(t, errtax.CodePrerequisitesNotComplete, taxErr.Code)
}
