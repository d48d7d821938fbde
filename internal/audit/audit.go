// Package audit persists the force-claim audit trail required by §4.7/§7:
// one append-only JSONL record per force-claim, written before the
// claiming mutation commits. If the append fails, the caller is expected
// to abort the claim rather than proceed without a record.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPath is the force-claim audit log location relative to a
// project root, used when AuditConfig.Path is unset.
const DefaultPath = ".trellis/audit.log"

// Record is one force-claim audit line. ID is a uuid so concurrent
// force-claims from multiple processes never collide in the log.
type Record struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"taskId"`
	OriginalStatus string  `json:"originalStatus"`
	NewStatus      string  `json:"newStatus"`
	Worktree       *string `json:"worktree,omitempty"`
	At             string  `json:"at"`
}

// Sink appends force-claim records to a JSONL file, creating it and its
// parent directory on first use. It implements claimengine.AuditRecorder.
type Sink struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a Sink writing to path. logger defaults to a discarding
// logger if nil.
func New(path string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{path: path, logger: logger}
}

// PathForRoot joins a configured (possibly relative) audit path onto a
// project root, matching the resolver's root-relative convention.
func PathForRoot(root, configuredPath string) string {
	if configuredPath == "" {
		configuredPath = DefaultPath
	}
	if filepath.IsAbs(configuredPath) {
		return configuredPath
	}
	return filepath.Join(root, configuredPath)
}

// RecordForceClaim appends one audit record before the caller commits a
// force-claim mutation. The append itself is an O_APPEND write, which is
// atomic for writes under PIPE_BUF on POSIX filesystems for the record
// sizes this sink produces.
func (s *Sink) RecordForceClaim(taskID, originalStatus, newStatus string, worktree *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}

	rec := Record{
		ID:             uuid.NewString(),
		TaskID:         taskID,
		OriginalStatus: originalStatus,
		NewStatus:      newStatus,
		Worktree:       worktree,
		At:             at.UTC().Format(time.RFC3339),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}

	s.logger.Debug("recorded force-claim audit", "taskId", taskID, "recordId", rec.ID)
	return nil
}

// ReadAll loads every record from the audit log, in file order, for
// inspection or tests. Returns an empty slice if the file does not exist.
func ReadAll(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}
