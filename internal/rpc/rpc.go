// Package rpc binds the path resolver, scanner, validator, dependency
// graph, claim engine, and completion engine into the named operations
// §4.9 exposes: createObject, getObject, updateObject, deleteObject,
// claimNextTask, completeTask, getNextReviewableTask, listBacklog, and
// getCompletedObjects. Every operation accepts an explicit projectRoot.
// Failures the handlers classify are *errtax.Error values; errors from the
// scanner, from resolver path construction, and from filesystem writes are
// returned unconverted. The server holds no per-caller state.
package rpc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/trellis-mcp/trellis/internal/claimengine"
	"github.com/trellis-mcp/trellis/internal/completion"
	"github.com/trellis-mcp/trellis/internal/depgraph"
	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
	"github.com/trellis-mcp/trellis/internal/scanner"
	"github.com/trellis-mcp/trellis/internal/validate"
)

// Server binds every component into the named RPC surface. Construct one
// per process; it holds no per-call state, and none of its collaborators
// keeps a kind-inference cache.
type Server struct {
	resolver  *resolver.Resolver
	scanner   *scanner.Scanner
	validator *validate.Validator
	claims    *claimengine.Engine
	completer *completion.Engine
	logger    *slog.Logger
	now       func() time.Time
}

// New assembles a Server from its collaborators. logger defaults to a
// discard logger if nil; now defaults to time.Now, overridable for tests.
func New(res *resolver.Resolver, sc *scanner.Scanner, val *validate.Validator, claims *claimengine.Engine, completer *completion.Engine, logger *slog.Logger, now func() time.Time) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &Server{resolver: res, scanner: sc, validator: val, claims: claims, completer: completer, logger: logger, now: now}
}

// ChildRef is one entry in getObject's immediate-children array (§4.9).
type ChildRef struct {
	ID       string
	Title    string
	Status   object.Status
	Kind     object.Kind
	Created  time.Time
	FilePath string
}

func childRefFrom(o *object.Object) ChildRef {
	return ChildRef{ID: o.ID, Title: o.Title, Status: o.Status, Kind: o.Kind, Created: o.Created, FilePath: o.FilePath}
}

// defaultStatusFor returns the status a newly created object starts in
// when the caller doesn't supply one.
func defaultStatusFor(kind object.Kind) object.Status {
	if kind == object.KindTask {
		return object.StatusOpen
	}
	return object.StatusDraft
}

// CreateObjectRequest is one createObject call.
type CreateObjectRequest struct {
	ProjectRoot   string
	ID            string
	Parent        *string
	Title         string
	Status        string
	Priority      string
	Prerequisites []string
	Worktree      *string
	Body          string
}

// CreateObject writes a new Project/Epic/Feature/Task, validating schema,
// parent-exists, and (for tasks) acyclic prerequisites before anything
// touches disk (§4.9).
func (s *Server) CreateObject(req CreateObjectRequest) (*object.Object, error) {
	kind, bareID, err := resolver.SplitID(req.ID)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "id is not a recognized identifier", map[string]string{"id": req.ID})
	}
	if verr := resolver.ValidateBareID(bareID); verr != nil {
		return nil, errtax.New(errtax.CodeSecurityViolation, "id failed security validation", map[string]string{"id": req.ID})
	}

	if _, err := s.resolver.IDToPath(kind, bareID, req.ProjectRoot); err == nil {
		return nil, errtax.New(errtax.CodeInvalidField, "an object with this id already exists", map[string]string{"id": req.ID})
	}

	status := object.Status(req.Status)
	if status == "" {
		status = defaultStatusFor(kind)
	}
	if !object.ValidStatusesFor(kind, status) {
		return nil, errtax.New(errtax.CodeInvalidField, "status is not valid for this kind", map[string]string{"status": string(status), "kind": string(kind)})
	}

	now := s.now().UTC()
	obj := &object.Object{
		Kind:          kind,
		ID:            req.ID,
		Parent:        req.Parent,
		Status:        status,
		Title:         req.Title,
		Priority:      object.NormalizePriority(req.Priority),
		Worktree:      req.Worktree,
		Created:       now,
		Updated:       now,
		SchemaVersion: object.CurrentSchemaVersion,
		Prerequisites: req.Prerequisites,
		Body:          req.Body,
	}

	var knownTasks []*object.Object
	if kind == object.KindTask {
		knownTasks, _ = s.scanner.ScanTasks(req.ProjectRoot)
	}

	if c := s.validator.ValidateObject(obj, req.ProjectRoot, knownTasks); !c.Empty() {
		return nil, c.Aggregate()
	}

	path, err := s.resolver.ResolvePathForNew(kind, bareID, req.Parent, status, req.ProjectRoot, now)
	if err != nil {
		return nil, err
	}
	obj.FilePath = path

	if err := os.WriteFile(path, object.Serialize(obj), 0o644); err != nil {
		return nil, fmt.Errorf("writing new object: %w", err)
	}

	s.logger.Debug("created object", "id", obj.ID, "kind", obj.Kind)
	return obj, nil
}

// GetObjectRequest is one getObject call.
type GetObjectRequest struct {
	ProjectRoot string
	ID          string
}

// GetObjectResult is the getObject return shape: the object itself plus
// its immediate children (§4.9).
type GetObjectResult struct {
	Object   *object.Object
	Children []ChildRef
}

// GetObject fetches an object by ID (kind inferred from its prefix) along
// with its immediate children, one level deep.
func (s *Server) GetObject(req GetObjectRequest) (*GetObjectResult, error) {
	kind, bareID, err := resolver.SplitID(req.ID)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "id is not a recognized identifier", map[string]string{"id": req.ID})
	}

	path, err := s.resolver.IDToPath(kind, bareID, req.ProjectRoot)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "object not found", map[string]string{"id": req.ID})
	}

	obj, err := s.readObject(path)
	if err != nil {
		return nil, err
	}

	children, err := s.immediateChildren(kind, path)
	if err != nil {
		return nil, err
	}

	return &GetObjectResult{Object: obj, Children: children}, nil
}

// immediateChildren lists the one-level-deep children of the object at
// path, per kind: Project->Epics, Epic->Features, Feature->Tasks (open
// and done), Task->none.
func (s *Server) immediateChildren(kind object.Kind, path string) ([]ChildRef, error) {
	dir := filepath.Dir(path)

	switch kind {
	case object.KindProject:
		return s.childrenFromDirs(filepath.Join(dir, resolver.DirEpics), resolver.FileEpic)
	case object.KindEpic:
		return s.childrenFromDirs(filepath.Join(dir, resolver.DirFeatures), resolver.FileFeature)
	case object.KindFeature:
		return s.childrenFromTaskDirs(dir)
	default:
		return nil, nil
	}
}

func (s *Server) childrenFromDirs(containerDir, filename string) ([]ChildRef, error) {
	entries, err := os.ReadDir(containerDir)
	if err != nil {
		return nil, nil
	}
	var out []ChildRef
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		childPath := filepath.Join(containerDir, e.Name(), filename)
		obj, err := s.readObject(childPath)
		if err != nil {
			s.logger.Warn("skipping malformed child object", "path", childPath, "error", err)
			continue
		}
		out = append(out, childRefFrom(obj))
	}
	return out, nil
}

func (s *Server) childrenFromTaskDirs(featureDir string) ([]ChildRef, error) {
	var out []ChildRef
	for _, taskDir := range []string{resolver.DirTasksOpen, resolver.DirTasksDone} {
		entries, err := os.ReadDir(filepath.Join(featureDir, taskDir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			childPath := filepath.Join(featureDir, taskDir, e.Name())
			obj, err := s.readObject(childPath)
			if err != nil {
				s.logger.Warn("skipping malformed child object", "path", childPath, "error", err)
				continue
			}
			out = append(out, childRefFrom(obj))
		}
	}
	return out, nil
}

func (s *Server) readObject(path string) (*object.Object, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "object not found", nil)
	}
	obj, err := object.Parse(raw, path)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidField, "object file failed to parse", nil)
	}
	return obj, nil
}

// UpdateObjectRequest is one updateObject call. Nil fields are left
// unchanged; a non-nil field replaces the corresponding attribute.
type UpdateObjectRequest struct {
	ProjectRoot   string
	ID            string
	Title         *string
	Status        *string
	Priority      *string
	Parent        *string
	Prerequisites *[]string
	Worktree      *string
	Body          *string
}

// UpdateObject patches an existing object's YAML fields and/or body,
// re-validating before the write commits. It may transition a non-task
// object (Project/Epic/Feature) to done; tasks reach done only through
// completeTask (§4.9), since that path also performs the tasks-done move.
func (s *Server) UpdateObject(req UpdateObjectRequest) (*object.Object, error) {
	kind, bareID, err := resolver.SplitID(req.ID)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "id is not a recognized identifier", map[string]string{"id": req.ID})
	}

	path, err := s.resolver.IDToPath(kind, bareID, req.ProjectRoot)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "object not found", map[string]string{"id": req.ID})
	}

	obj, err := s.readObject(path)
	if err != nil {
		return nil, err
	}

	if req.Status != nil {
		newStatus := object.Status(*req.Status)
		if kind == object.KindTask && newStatus == object.StatusDone {
			return nil, errtax.New(errtax.CodeInvalidStatusForCompletion, "tasks can only be marked done via completeTask", map[string]string{"id": req.ID})
		}
		if !object.ValidStatusesFor(kind, newStatus) {
			return nil, errtax.New(errtax.CodeInvalidField, "status is not valid for this kind", map[string]string{"status": string(*req.Status), "kind": string(kind)})
		}
		if !object.CanTransition(kind, obj.Status, newStatus) {
			return nil, errtax.New(errtax.CodeInvalidField, "status transition is not permitted", map[string]string{"from": string(obj.Status), "to": string(newStatus)})
		}
		obj.Status = newStatus
	}
	if req.Title != nil {
		obj.Title = *req.Title
	}
	if req.Priority != nil {
		obj.Priority = object.NormalizePriority(*req.Priority)
	}
	if req.Parent != nil {
		obj.Parent = req.Parent
	}
	if req.Prerequisites != nil {
		obj.Prerequisites = *req.Prerequisites
	}
	if req.Worktree != nil {
		obj.Worktree = req.Worktree
	}
	if req.Body != nil {
		obj.Body = *req.Body
	}
	obj.Updated = s.now().UTC()

	var knownTasks []*object.Object
	if kind == object.KindTask {
		knownTasks, _ = s.scanner.ScanTasks(req.ProjectRoot)
	}

	if c := s.validator.ValidateObject(obj, req.ProjectRoot, knownTasks); !c.Empty() {
		return nil, c.Aggregate()
	}

	if err := atomicWrite(path, object.Serialize(obj)); err != nil {
		return nil, fmt.Errorf("writing updated object: %w", err)
	}

	s.logger.Debug("updated object", "id", obj.ID)
	return obj, nil
}

// DeleteObjectRequest is one deleteObject call.
type DeleteObjectRequest struct {
	ProjectRoot string
	ID          string
}

// DeleteObject removes an object. Projects, Epics, and Features cascade:
// removing their directory removes every descendant, since the on-disk
// layout nests them (§3). Tasks remove their single file.
func (s *Server) DeleteObject(req DeleteObjectRequest) error {
	kind, bareID, err := resolver.SplitID(req.ID)
	if err != nil {
		return errtax.New(errtax.CodeInvalidIDFormat, "id is not a recognized identifier", map[string]string{"id": req.ID})
	}

	path, err := s.resolver.IDToPath(kind, bareID, req.ProjectRoot)
	if err != nil {
		return errtax.New(errtax.CodeObjectNotFound, "object not found", map[string]string{"id": req.ID})
	}

	if kind == object.KindTask {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		s.logger.Debug("deleted object", "id", req.ID)
		return nil
	}

	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("deleting object and descendants: %w", err)
	}
	s.logger.Debug("deleted object and descendants", "id", req.ID)
	return nil
}

// ClaimNextTask wraps the claim engine (§4.7).
func (s *Server) ClaimNextTask(req claimengine.Request) (*object.Object, error) {
	return s.claims.Claim(req)
}

// CompleteTask wraps the completion engine (§4.8).
func (s *Server) CompleteTask(req completion.Request) (*object.Object, error) {
	return s.completer.Complete(req)
}

// GetNextReviewableTask returns the oldest task with status=review,
// ordered by updated ascending and tie-broken by id (§4.9, supplemented
// feature 5).
func (s *Server) GetNextReviewableTask(root string) (*object.Object, error) {
	tasks, _ := s.scanner.ScanTasks(root)

	var candidates []*object.Object
	for _, t := range tasks {
		if t.Status == object.StatusReview {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, errtax.New(errtax.CodeNoAvailableTask, "no task is awaiting review", nil)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Updated.Equal(candidates[j].Updated) {
			return candidates[i].Updated.Before(candidates[j].Updated)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

// ListBacklogRequest filters and orders tasks for listBacklog.
type ListBacklogRequest struct {
	ProjectRoot string
	Scope       string
	Status      string
	Priority    string
}

// ListBacklog filters tasks by scope/status/priority and returns them in
// the server's standard deterministic order: (priority_rank, created, id).
func (s *Server) ListBacklog(req ListBacklogRequest) ([]*object.Object, error) {
	var tasks []*object.Object
	var err error
	if req.Scope != "" {
		tasks, _, err = s.scanner.FilterByScope(req.Scope, req.ProjectRoot)
		if err != nil {
			return nil, err
		}
	} else {
		tasks, _ = s.scanner.ScanTasks(req.ProjectRoot)
	}

	var filtered []*object.Object
	for _, t := range tasks {
		if req.Status != "" && string(t.Status) != req.Status {
			continue
		}
		if req.Priority != "" && t.Priority != object.NormalizePriority(req.Priority) {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.Slice(filtered, func(i, j int) bool {
		ti, tj := filtered[i], filtered[j]
		if ti.Priority.Rank() != tj.Priority.Rank() {
			return ti.Priority.Rank() < tj.Priority.Rank()
		}
		if !ti.Created.Equal(tj.Created) {
			return ti.Created.Before(tj.Created)
		}
		return ti.ID < tj.ID
	})
	return filtered, nil
}

// GetCompletedObjectsRequest scopes getCompletedObjects to the subtree
// rooted at ScopeID.
type GetCompletedObjectsRequest struct {
	ProjectRoot string
	ScopeID     string
}

// GetCompletedObjects recursively scans the subtree rooted at ScopeID and
// returns every done descendant (the scope object itself included),
// sorted by completion date (Updated) descending, priority as tiebreaker,
// then id for full determinism (§4.9, supplemented feature 5).
func (s *Server) GetCompletedObjects(req GetCompletedObjectsRequest) ([]*object.Object, error) {
	kind, bareID, err := resolver.SplitID(req.ScopeID)
	if err != nil {
		return nil, errtax.New(errtax.CodeInvalidIDFormat, "id is not a recognized identifier", map[string]string{"id": req.ScopeID})
	}

	path, err := s.resolver.IDToPath(kind, bareID, req.ProjectRoot)
	if err != nil {
		return nil, errtax.New(errtax.CodeObjectNotFound, "object not found", map[string]string{"id": req.ScopeID})
	}

	subtree, err := s.subtree(kind, path)
	if err != nil {
		return nil, err
	}

	var done []*object.Object
	for _, o := range subtree {
		if o.Status == object.StatusDone {
			done = append(done, o)
		}
	}

	sort.Slice(done, func(i, j int) bool {
		di, dj := done[i], done[j]
		if !di.Updated.Equal(dj.Updated) {
			return di.Updated.After(dj.Updated)
		}
		if di.Priority.Rank() != dj.Priority.Rank() {
			return di.Priority.Rank() < dj.Priority.Rank()
		}
		return di.ID < dj.ID
	})
	return done, nil
}

// subtree collects the object at path plus every descendant, per kind,
// tolerating malformed files the same way the scanner does.
func (s *Server) subtree(kind object.Kind, path string) ([]*object.Object, error) {
	self, err := s.readObject(path)
	if err != nil {
		return nil, err
	}

	out := []*object.Object{self}
	dir := filepath.Dir(path)

	switch kind {
	case object.KindProject:
		epicDirs, _ := os.ReadDir(filepath.Join(dir, resolver.DirEpics))
		for _, e := range epicDirs {
			if !e.IsDir() {
				continue
			}
			epicPath := filepath.Join(dir, resolver.DirEpics, e.Name(), resolver.FileEpic)
			descendants, err := s.subtree(object.KindEpic, epicPath)
			if err != nil {
				s.logger.Warn("skipping malformed descendant", "path", epicPath, "error", err)
				continue
			}
			out = append(out, descendants...)
		}
	case object.KindEpic:
		featureDirs, _ := os.ReadDir(filepath.Join(dir, resolver.DirFeatures))
		for _, f := range featureDirs {
			if !f.IsDir() {
				continue
			}
			featurePath := filepath.Join(dir, resolver.DirFeatures, f.Name(), resolver.FileFeature)
			descendants, err := s.subtree(object.KindFeature, featurePath)
			if err != nil {
				s.logger.Warn("skipping malformed descendant", "path", featurePath, "error", err)
				continue
			}
			out = append(out, descendants...)
		}
	case object.KindFeature:
		for _, taskDir := range []string{resolver.DirTasksOpen, resolver.DirTasksDone} {
			entries, _ := os.ReadDir(filepath.Join(dir, taskDir))
			for _, t := range entries {
				if t.IsDir() {
					continue
				}
				taskPath := filepath.Join(dir, taskDir, t.Name())
				task, err := s.readObject(taskPath)
				if err != nil {
					s.logger.Warn("skipping malformed descendant", "path", taskPath, "error", err)
					continue
				}
				out = append(out, task)
			}
		}
	}

	return out, nil
}

// atomicWrite writes data to a temp file beside path and renames it into
// place, matching the rename-based swap used throughout the server.
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

// BuildGraphSnapshot exposes the cross-system dependency graph over
// every currently-known task, for callers (e.g. diagnostics) that need a
// read-only view without going through a mutating operation.
func (s *Server) BuildGraphSnapshot(root string) *depgraph.Graph {
	tasks, _ := s.scanner.ScanTasks(root)
	return depgraph.BuildGraph(tasks)
}
