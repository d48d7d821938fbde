// Package object defines the Trellis object model: the four planning
// artifact kinds (Project, Epic, Feature, Task), their status lifecycles,
// and the in-memory representation shared by every other component.
package object

import (
	"fmt"
	"time"
)

// Kind identifies one of the four planning artifact types.
type Kind string

// Valid object kinds.
const (
	KindProject Kind = "project"
	KindEpic    Kind = "epic"
	KindFeature Kind = "feature"
	KindTask    Kind = "task"
)

// validKinds contains all valid Kind values for quick lookup.
var validKinds = map[Kind]bool{
	KindProject: true,
	KindEpic:    true,
	KindFeature: true,
	KindTask:    true,
}

// IsValid returns true if the kind is one of the four recognized kinds.
func (k Kind) IsValid() bool {
	return validKinds[k]
}

// Prefix returns the ID prefix associated with the kind (e.g. "P-" for project).
func (k Kind) Prefix() string {
	switch k {
	case KindProject:
		return "P-"
	case KindEpic:
		return "E-"
	case KindFeature:
		return "F-"
	case KindTask:
		return "T-"
	default:
		return ""
	}
}

// Status represents the lifecycle state of an object. The set of valid
// values depends on the object's Kind (see ValidStatusesFor).
type Status string

// Task status values.
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// Project/Epic/Feature status values.
const (
	StatusDraft Status = "draft"
)

// taskStatuses is the allowed status set for tasks.
var taskStatuses = map[Status]bool{
	StatusOpen:       true,
	StatusInProgress: true,
	StatusReview:     true,
	StatusDone:       true,
}

// containerStatuses is the allowed status set for project/epic/feature.
var containerStatuses = map[Status]bool{
	StatusDraft:      true,
	StatusInProgress: true,
	StatusDone:       true,
}

// ValidStatusesFor returns whether status is a legal value for kind.
func ValidStatusesFor(kind Kind, status Status) bool {
	if kind == KindTask {
		return taskStatuses[status]
	}
	return containerStatuses[status]
}

// taskTransitions enumerates the permitted task status transitions,
// including the open->done and in-progress->done shortcuts from §3.
var taskTransitions = map[Status]map[Status]bool{
	StatusOpen:       {StatusInProgress: true, StatusDone: true},
	StatusInProgress: {StatusReview: true, StatusDone: true},
	StatusReview:     {StatusDone: true},
	StatusDone:       {},
}

// containerTransitions enumerates permitted project/epic/feature transitions.
var containerTransitions = map[Status]map[Status]bool{
	StatusDraft:      {StatusInProgress: true, StatusDone: true},
	StatusInProgress: {StatusDone: true},
	StatusDone:       {},
}

// CanTransition reports whether moving from -> to is a legal lifecycle
// transition for the given kind. A no-op transition (from == to) is always
// legal.
func CanTransition(kind Kind, from, to Status) bool {
	if from == to {
		return true
	}
	table := containerTransitions
	if kind == KindTask {
		table = taskTransitions
	}
	allowed, ok := table[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Priority represents the scheduling priority of an object.
type Priority string

// Valid priority values. "medium" is accepted as an input alias for
// Normal but is never produced by this package.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var validPriorities = map[Priority]bool{
	PriorityHigh:   true,
	PriorityNormal: true,
	PriorityLow:    true,
}

// IsValid returns true if the priority is one of the three canonical values.
// It does not accept "medium" — callers must normalize first.
func (p Priority) IsValid() bool {
	return validPriorities[p]
}

// Rank returns the sort rank used by the claim engine's priority ordering:
// lower ranks win. Unknown priorities rank last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// NormalizePriority canonicalizes a raw priority string read from input,
// coercing the "medium" alias to PriorityNormal per §9. Empty input
// defaults to PriorityNormal.
func NormalizePriority(raw string) Priority {
	switch raw {
	case "", string(PriorityNormal), "medium":
		return PriorityNormal
	case string(PriorityHigh):
		return PriorityHigh
	case string(PriorityLow):
		return PriorityLow
	default:
		return Priority(raw)
	}
}

// CurrentSchemaVersion is the schema_version written by createObject and by
// any updateObject write (§9: objects read at "1.0" are silently upgraded to
// this version when rewritten).
const CurrentSchemaVersion = "1.1"

// recognizedSchemaVersions are accepted on read.
var recognizedSchemaVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
}

// IsRecognizedSchemaVersion reports whether v is an accepted schema_version.
func IsRecognizedSchemaVersion(v string) bool {
	return recognizedSchemaVersions[v]
}

// Object is the in-memory representation of a single planning artifact,
// regardless of kind. Kind-specific fields that don't apply to a given
// kind are left at their zero value (e.g. Prerequisites is only
// meaningful for KindTask).
type Object struct {
	Kind          Kind
	ID            string
	Parent        *string
	Status        Status
	Title         string
	Priority      Priority
	Worktree      *string
	Created       time.Time
	Updated       time.Time
	SchemaVersion string
	Prerequisites []string

	// Body is the free-form markdown body, including the ### Log section.
	// It is preserved byte-identical across round-trips except for
	// authorized log appends (see internal/completion).
	Body string

	// FilePath is the absolute path this object was loaded from, or empty
	// for an object that hasn't been persisted yet. Not serialized.
	FilePath string
}

// IsStandalone reports whether this object is a parentless task.
func (o *Object) IsStandalone() bool {
	return o.Kind == KindTask && o.Parent == nil
}

// String implements fmt.Stringer for debug/log contexts. It never includes
// Body or FilePath to keep log lines short.
func (o *Object) String() string {
	parent := "<nil>"
	if o.Parent != nil {
		parent = *o.Parent
	}
	return fmt.Sprintf("Object{kind=%s id=%s parent=%s status=%s}", o.Kind, o.ID, parent, o.Status)
}
