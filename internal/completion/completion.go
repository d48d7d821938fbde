// Package completion implements the open-to-done transition (§4.8): moving
// a task's file into tasks-done/, stamping its filename, flipping status,
// and appending to its ### Log section without disturbing the body above
// it.
package completion

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

const logHeading = "### Log"

// timestampForm renders the §4.8 "YYYYMMDD_HHMMSS" filename prefix.
const timestampForm = "20060102_150405"

// completableStatuses are the statuses completeTask accepts as a
// precondition (§4.8: "in-progress, review ... or open for a
// direct-to-done completion").
var completableStatuses = map[object.Status]bool{
	object.StatusOpen:       true,
	object.StatusInProgress: true,
	object.StatusReview:     true,
}

// Request is one completeTask call.
type Request struct {
	ProjectRoot  string
	TaskID       string
	FilesChanged []string
}

// Engine moves tasks to tasks-done/ and stamps their completion.
type Engine struct {
	resolver *resolver.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Engine. now defaults to time.Now if nil, overridable for
// deterministic tests.
func New(res *resolver.Resolver, logger *slog.Logger, now func() time.Time) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{resolver: res, logger: logger, now: now}
}

// Complete executes a completeTask call (§4.8). Completing an
// already-done task is a no-op that returns the existing object
// (idempotence, §8 property 5).
func (e *Engine) Complete(req Request) (*object.Object, error) {
	kind, bare, err := resolver.SplitID(req.TaskID)
	if err != nil || kind != object.KindTask {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "taskId is not a recognized task identifier", map[string]string{"taskId": req.TaskID})
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

	if task.Status == object.StatusDone {
		return task, nil
	}
	if !completableStatuses[task.Status] {
		return nil, errtax.New(errtax.CodeInvalidStatusForCompletion, "task is not in a completable status", map[string]string{"taskId": req.TaskID, "status": string(task.Status)})
	}

	now := e.now().UTC()
	task.Status = object.StatusDone
	task.Updated = now
	task.Body = appendLogEntry(task.Body, now, req.FilesChanged)

	destDir := filepath.Dir(filepath.Dir(path)) // .../tasks-open -> parent
	destDir = filepath.Join(destDir, resolver.DirTasksDone)
	destPath := filepath.Join(destDir, now.Format(timestampForm)+"-T-"+bare+".md")

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tasks-done directory: %w", err)
	}

	task.FilePath = destPath
	if err := writeThenMove(path, destPath, object.Serialize(task)); err != nil {
		return nil, fmt.Errorf("completing task: %w", err)
	}

	e.logger.Debug("completed task", "taskId", task.ID, "destPath", destPath)
	return task, nil
}

// logEntryPattern matches "### Log" so appendLogEntry can find it
// regardless of surrounding blank lines.
var logEntryPattern = regexp.MustCompile(`(?m)^### Log\s*$`)

// appendLogEntry re-reads the ### Log heading and appends one line below
// it, creating the section if absent (§9: "a writer that appends must
// re-read, scan for the heading, and append below it"). The body above
// the heading is preserved byte-for-byte.
func appendLogEntry(body string, at time.Time, filesChanged []string) string {
	entry := "- " + at.Format(time.RFC3339) + ": completed"
	if len(filesChanged) > 0 {
		entry += " (filesChanged: [" + strings.Join(filesChanged, ", ") + "])"
	}

	loc := logEntryPattern.FindStringIndex(body)
	if loc == nil {
		sep := ""
		if body != "" && !strings.HasSuffix(body, "\n") {
			sep = "\n"
		}
		return body + sep + logHeading + "\n" + entry + "\n"
	}

	headingEnd := loc[1]
	before := body[:headingEnd]
	after := strings.TrimPrefix(body[headingEnd:], "\n")
	return before + "\n" + entry + "\n" + after
}

// writeThenMove implements §4.8 step 5: the destination receives the
// fully-updated content via temp-file-then-rename (atomic within
// destDir), and only then is the stale tasks-open copy removed. If the
// process crashes between the rename and the removal, at most one
// duplicate exists on disk; a reader reconciles by preferring the
// tasks-done/-path file.
func writeThenMove(src, dst string, data []byte) error {
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
