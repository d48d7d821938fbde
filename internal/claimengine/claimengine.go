// Package claimengine implements the atomic open-to-in-progress task
// transition (§4.7): priority mode, scope mode, and direct (optionally
// forced) mode, all funneled through one compare-and-swap write so
// concurrent claimers never both win the same task.
package claimengine

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/trellis-mcp/trellis/internal/depgraph"
	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
	"github.com/trellis-mcp/trellis/internal/scanner"
)

// scopePattern is the §4.7 parameter-validation shape for scope.
var scopePattern = regexp.MustCompile(`^[PEF]-[A-Za-z0-9_-]+$`)

// AuditRecorder persists a force-claim audit record before the mutation is
// committed. §7: "if audit write fails, the claim is aborted."
type AuditRecorder interface {
	RecordForceClaim(taskID, originalStatus, newStatus string, worktree *string, at time.Time) error
}

// Request is one claimNextTask call's parameters, validated at the RPC
// boundary per §4.7 before any filesystem access.
type Request struct {
	ProjectRoot string
	Scope       string
	TaskID      string
	ForceClaim  bool
	Worktree    *string
}

// Validate enforces §4.7's mutual-exclusivity and shape rules.
func (r Request) Validate() *errtax.Error {
	if r.Scope != "" && r.TaskID != "" {
		return errtax.New(errtax.CodeMutualExclusivityViolation,
			"use either scope OR taskId, not both", map[string]string{"scope": r.Scope, "taskId": r.TaskID})
	}
	if r.ForceClaim && r.TaskID == "" {
		return errtax.New(errtax.CodeMutualExclusivityViolation,
			"force_claim requires taskId", nil)
	}
	if r.ForceClaim && r.Scope != "" {
		return errtax.New(errtax.CodeMutualExclusivityViolation,
			"force_claim is incompatible with scope", nil)
	}
	if r.Scope != "" && !scopePattern.MatchString(r.Scope) {
		return errtax.New(errtax.CodeInvalidScope, "scope does not match the expected shape", map[string]string{"scope": r.Scope})
	}
	if r.TaskID != "" {
		if _, _, err := resolver.SplitID(r.TaskID); err != nil {
			return errtax.New(errtax.CodeInvalidIDFormat, "taskId is not a recognized task identifier", map[string]string{"taskId": r.TaskID})
		}
	}
	return nil
}

// Engine executes claims against a planning tree.
type Engine struct {
	scanner  *scanner.Scanner
	resolver *resolver.Resolver
	audit    AuditRecorder
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an Engine. audit may be nil if force-claims are never used by
// the caller (any force-claim attempt without an audit recorder fails
// closed, matching §7's "audit write fails ⇒ claim aborted").
func New(sc *scanner.Scanner, res *resolver.Resolver, audit AuditRecorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{scanner: sc, resolver: res, audit: audit, logger: logger, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) lockFor(path string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[path]
	if !ok {
		m = &sync.Mutex{}
		e.locks[path] = m
	}
	return m
}

// Claim executes req and returns the claimed task on success.
func (e *Engine) Claim(req Request) (*object.Object, error) {
	if verr := req.Validate(); verr != nil {
		return nil, verr
	}

	if req.TaskID != "" {
		return e.claimDirect(req)
	}
	return e.claimByCandidates(req)
}

// claimByCandidates implements priority mode (req.Scope == "") and scope
// mode: enumerate candidates, filter open+unblocked, sort by
// (priority_rank, created, id), take the head (§4.7 selection algorithm).
func (e *Engine) claimByCandidates(req Request) (*object.Object, error) {
	var tasks []*object.Object
	var err error
	if req.Scope != "" {
		tasks, _, err = e.scanner.FilterByScope(req.Scope, req.ProjectRoot)
		if err != nil {
			return nil, err
		}
	} else {
		tasks, _ = e.scanner.ScanTasks(req.ProjectRoot)
	}

	graph := depgraph.BuildGraph(tasks)

	type candidate struct {
		task *object.Object
		bare string
	}
	var candidates []candidate
	for _, t := range tasks {
		if t.Status != object.StatusOpen {
			continue
		}
		bare := bareOf(t.ID)
		unblocked, _, _ := graph.IsUnblocked(bare)
		if !unblocked {
			continue
		}
		candidates = append(candidates, candidate{task: t, bare: bare})
	}

	if len(candidates) == 0 {
		return nil, errtax.New(errtax.CodeNoAvailableTask, "no open, unblocked task is available in scope", map[string]string{"scope": req.Scope})
	}

	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].task, candidates[j].task
		if ti.Priority.Rank() != tj.Priority.Rank() {
			return ti.Priority.Rank() < tj.Priority.Rank()
		}
		if !ti.Created.Equal(tj.Created) {
			return ti.Created.Before(tj.Created)
		}
		return ti.ID < tj.ID
	})

	chosen := candidates[0].task
	return e.commitClaim(chosen, req.Worktree, false)
}

// claimDirect implements direct mode and force mode (§4.7).
func (e *Engine) claimDirect(req Request) (*object.Object, error) {
	kind, bare, err := resolver.SplitID(req.TaskID)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "taskId is not a recognized task identifier", map[string]string{"taskId": req.TaskID})
	}
	if kind != object.KindTask {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "taskId must identify a task", map[string]string{"taskId": req.TaskID})
	}

	path, err := e.resolver.IDToPath(object.KindTask, bare, req.ProjectRoot)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "task not found", map[string]string{"taskId": req.TaskID})
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "task not found", map[string]string{"taskId": req.TaskID})
	}
	task, err := object.Parse(raw, path)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidField, "task file failed to parse", nil)
	}

	if !req.ForceClaim {
		if task.Status != object.StatusOpen {
			return nil, errtax.New(errtax.CodeInvalidStatusForCompletion, "task is not open", map[string]string{"taskId": req.TaskID, "status": string(task.Status)})
		}

		tasks, _ := e.scanner.ScanTasks(req.ProjectRoot)
		graph := depgraph.BuildGraph(tasks)
		unblocked, incomplete, missing := graph.IsUnblocked(bareOf(task.ID))
		if !unblocked {
			ctx := map[string]string{"taskId": req.TaskID}
			if len(missing) > 0 {
				return nil, errtax.New(errtax.CodeCrossSystemPrerequisiteInvalid, "task references a prerequisite that does not exist", mergeList(ctx, "missing", missing))
			}
			return nil, errtax.New(errtax.CodePrerequisitesNotComplete, "task has incomplete prerequisites", mergeList(ctx, "incomplete", incomplete))
		}
		return e.commitClaim(task, req.Worktree, false)
	}

	// Force mode: bypass status and prerequisite checks, but always audit
	// first — if the audit write fails, the claim itself is aborted (§7).
	originalStatus := string(task.Status)
	if e.audit == nil {
		return nil, fmt.Errorf("force-claim requires an audit recorder; refusing to bypass checks without one")
	}
	if err := e.audit.RecordForceClaim(req.TaskID, originalStatus, string(object.StatusInProgress), req.Worktree, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("force-claim audit failed, aborting claim: %w", err)
	}
	return e.commitClaim(task, req.Worktree, true)
}

func mergeList(ctx map[string]string, key string, values []string) map[string]string {
	out := make(map[string]string, len(ctx)+1)
	for k, v := range ctx {
		out[k] = v
	}
	joined := ""
	for i, v := range values {
		if i > 0 {
			joined += ","
		}
		joined += v
	}
	out[key] = joined
	return out
}

func bareOf(id string) string {
	_, bare, err := resolver.SplitID(id)
	if err != nil {
		return id
	}
	return bare
}

// commitClaim performs the compare-and-swap write: it re-reads the file
// immediately before writing to detect a concurrent claim (§5), then
// writes the new status via temp-file-then-rename. forced indicates the
// caller already bypassed status/prerequisite checks (used only for log
// context).
func (e *Engine) commitClaim(task *object.Object, worktree *string, forced bool) (*object.Object, error) {
	path := task.FilePath
	lock := e.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	originalStatus := task.Status

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "task not found", nil)
	}
	current, err := object.Parse(raw, path)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidField, "task file failed to parse", nil)
	}

	if !forced && current.Status != originalStatus {
		return nil, errtax.New(errtax.CodeTaskAlreadyClaimed, "task was claimed by another caller", map[string]string{"taskId": task.ID})
	}

	current.Status = object.StatusInProgress
	current.Updated = time.Now().UTC()
	if worktree != nil {
		current.Worktree = worktree
	}

	if err := atomicWrite(path, object.Serialize(current)); err != nil {
		return nil, fmt.Errorf("writing claimed task: %w", err)
	}

	e.logger.Debug("claimed task", "taskId", current.ID, "forced", forced, "originalStatus", originalStatus)
	return current, nil
}

// atomicWrite writes data to a temp file in the same directory as path and
// renames it into place, matching the teacher's temp-file-then-rename
// pattern so the swap is atomic on POSIX filesystems.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
