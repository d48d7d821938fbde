// Package errtax implements the RPC-facing error taxonomy (§4.10, §7): one
// sentinel error per code, a single context-carrying Error struct that
// names its code, a sanitizer that strips sensitive material before an
// error crosses the RPC boundary, and a Collector that aggregates
// per-field validation failures with
// severity ordering rather than failing on the first one.
package errtax

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Code identifies a taxonomy entry from §4.10. Codes are strings, not a
// closed Go type switch, so they serialize directly into RPC payloads.
type Code string

const (
	CodeInvalidField                   Code = "InvalidField"
	CodeMissingRequiredField            Code = "MissingRequiredField"
	CodeObjectNotFound                  Code = "ObjectNotFound"
	CodeInvalidScope                    Code = "InvalidScope"
	CodeMutualExclusivityViolation       Code = "MutualExclusivityViolation"
	CodeCycleDetected                    Code = "CycleDetected"
	CodeParentNotFound                  Code = "ParentNotFound"
	CodeCrossSystemReferenceConflict    Code = "CrossSystemReferenceConflict"
	CodeCrossSystemPrerequisiteInvalid  Code = "CrossSystemPrerequisiteInvalid"
	CodeNoAvailableTask                  Code = "NoAvailableTask"
	CodeInvalidStatusForCompletion       Code = "InvalidStatusForCompletion"
	CodePrerequisitesNotComplete         Code = "PrerequisitesNotComplete"
	CodeTaskAlreadyClaimed               Code = "TaskAlreadyClaimed"
	CodeInvalidIDFormat                  Code = "InvalidIDFormat"
	CodeSecurityViolation                Code = "SecurityViolation"
	CodeIOFailure                        Code = "IOFailure"
)

// Severity orders codes for aggregation: critical findings must surface
// ahead of structural ones, which in turn outrank semantic and
// informational findings (§4.5).
type Severity int

const (
	SeverityInformational Severity = iota
	SeveritySemantic
	SeverityStructural
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityStructural:
		return "structural"
	case SeveritySemantic:
		return "semantic"
	default:
		return "informational"
	}
}

var severityByCode = map[Code]Severity{
	CodeSecurityViolation:               SeverityCritical,
	CodeIOFailure:                       SeverityCritical,
	CodeInvalidIDFormat:                 SeverityStructural,
	CodeMissingRequiredField:            SeverityStructural,
	CodeInvalidField:                    SeverityStructural,
	CodeInvalidScope:                    SeverityStructural,
	CodeMutualExclusivityViolation:      SeverityStructural,
	CodeParentNotFound:                  SeveritySemantic,
	CodeCycleDetected:                   SeveritySemantic,
	CodeCrossSystemReferenceConflict:    SeveritySemantic,
	CodeCrossSystemPrerequisiteInvalid:  SeveritySemantic,
	CodeObjectNotFound:                  SeveritySemantic,
	CodeNoAvailableTask:                 SeverityInformational,
	CodeInvalidStatusForCompletion:      SeverityInformational,
	CodePrerequisitesNotComplete:        SeverityInformational,
	CodeTaskAlreadyClaimed:              SeverityInformational,
}

// SeverityOf reports the severity of a code, defaulting to informational
// for any code not in the table above.
func SeverityOf(c Code) Severity {
	if s, ok := severityByCode[c]; ok {
		return s
	}
	return SeverityInformational
}

// Sentinel errors, one per taxonomy code, for use with errors.Is.
var (
	ErrInvalidField                  = errors.New("invalid field")
	ErrMissingRequiredField           = errors.New("missing required field")
	ErrObjectNotFound                 = errors.New("object not found")
	ErrInvalidScope                   = errors.New("invalid scope")
	ErrMutualExclusivityViolation     = errors.New("mutual exclusivity violation")
	ErrCycleDetected                  = errors.New("cycle detected")
	ErrParentNotFound                 = errors.New("parent not found")
	ErrCrossSystemReferenceConflict   = errors.New("cross-system reference conflict")
	ErrCrossSystemPrerequisiteInvalid = errors.New("cross-system prerequisite invalid")
	ErrNoAvailableTask                = errors.New("no available task")
	ErrInvalidStatusForCompletion     = errors.New("invalid status for completion")
	ErrPrerequisitesNotComplete       = errors.New("prerequisites not complete")
	ErrTaskAlreadyClaimed             = errors.New("task already claimed")
	ErrInvalidIDFormat                = errors.New("invalid id format")
	ErrSecurityViolation              = errors.New("security violation")
	ErrIOFailure                      = errors.New("io failure")
)

var sentinelByCode = map[Code]error{
	CodeInvalidField:                   ErrInvalidField,
	CodeMissingRequiredField:           ErrMissingRequiredField,
	CodeObjectNotFound:                 ErrObjectNotFound,
	CodeInvalidScope:                   ErrInvalidScope,
	CodeMutualExclusivityViolation:     ErrMutualExclusivityViolation,
	CodeCycleDetected:                  ErrCycleDetected,
	CodeParentNotFound:                 ErrParentNotFound,
	CodeCrossSystemReferenceConflict:   ErrCrossSystemReferenceConflict,
	CodeCrossSystemPrerequisiteInvalid: ErrCrossSystemPrerequisiteInvalid,
	CodeNoAvailableTask:                ErrNoAvailableTask,
	CodeInvalidStatusForCompletion:     ErrInvalidStatusForCompletion,
	CodePrerequisitesNotComplete:       ErrPrerequisitesNotComplete,
	CodeTaskAlreadyClaimed:             ErrTaskAlreadyClaimed,
	CodeInvalidIDFormat:                ErrInvalidIDFormat,
	CodeSecurityViolation:              ErrSecurityViolation,
	CodeIOFailure:                      ErrIOFailure,
}

// Error is the RPC-facing error shape: {code, message, context} per §4.10.
// Context is a sanitized key-value map, never raw paths or identifiers that
// the sanitizer forbids.
type Error struct {
	Code    Code
	Message string
	Context map[string]string
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Context)
}

func (e *Error) Unwrap() error {
	return sentinelByCode[e.Code]
}

// FromError converts any error into an RPC-safe *Error at the boundary
// where an internal error is about to leave the process. If err is
// already (or wraps) an *Error, it's returned as-is — it was sanitized
// when constructed. Otherwise it's treated as an unclassified failure
// (typically a filesystem I/O error) and wrapped as CodeIOFailure with
// its message sanitized, so a raw absolute path or other sensitive detail
// from an os.PathError never reaches a caller (§7, §8 property 8).
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(CodeIOFailure, Sanitize(err.Error()), nil)
}

// New builds a sanitized Error for the given code. The message and every
// context value pass through Sanitize before storage, so constructing an
// Error is always safe to return across the RPC boundary.
func New(code Code, message string, context map[string]string) *Error {
	clean := make(map[string]string, len(context))
	for k, v := range context {
		clean[k] = Sanitize(v)
	}
	return &Error{Code: code, Message: Sanitize(message), Context: clean}
}

// FieldError is one entry in an aggregated validation failure.
type FieldError struct {
	Field   string
	Code    Code
	Message string
	Context map[string]string
}

func (fe FieldError) severity() Severity {
	return SeverityOf(fe.Code)
}

// Collector accumulates FieldErrors across a single validation pass,
// in the order found, and aggregates them into one sorted Error on demand
// rather than failing on the first problem (§4.5).
type Collector struct {
	errors []FieldError
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records one field-level failure.
func (c *Collector) Add(field string, code Code, message string, context map[string]string) {
	c.errors = append(c.errors, FieldError{Field: field, Code: code, Message: message, Context: context})
}

// Empty reports whether no errors were collected.
func (c *Collector) Empty() bool {
	return len(c.errors) == 0
}

// HasCriticalOrStructural reports whether any collected error is critical
// or structural severity — the condition under which §4.5 requires an
// aggregated ValidationError to be raised.
func (c *Collector) HasCriticalOrStructural() bool {
	for _, fe := range c.errors {
		if s := fe.severity(); s == SeverityCritical || s == SeverityStructural {
			return true
		}
	}
	return false
}

// Errors returns the collected FieldErrors sorted by descending severity,
// ties broken by field name for determinism.
func (c *Collector) Errors() []FieldError {
	sorted := make([]FieldError, len(c.errors))
	copy(sorted, c.errors)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].severity(), sorted[j].severity()
		if si != sj {
			return si > sj
		}
		return sorted[i].Field < sorted[j].Field
	})
	return sorted
}

// Aggregate produces the single top-level *Error §4.5 requires once
// collection is complete: top-level code is the most severe entry's code,
// message summarizes the count, context maps every field to its code and
// message.
func (c *Collector) Aggregate() *Error {
	if c.Empty() {
		return nil
	}
	sorted := c.Errors()
	top := sorted[0]

	ctx := make(map[string]string, len(sorted))
	for _, fe := range sorted {
		ctx[fe.Field] = string(fe.Code) + ": " + fe.Message
	}

	message := fmt.Sprintf("%d validation error(s), most severe: %s", len(sorted), top.Message)
	return New(top.Code, message, ctx)
}

var (
	absPathPattern    = regexp.MustCompile(`(?:^|[\s"'=:])(/[^\s"'<>]+)`)
	envVarPattern     = regexp.MustCompile(`\b[A-Z_][A-Z0-9_]{2,}=\S+`)
	uuidPattern       = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	ipv4Pattern       = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	dbConnPattern     = regexp.MustCompile(`(?i)\b\w+://[^\s"']*(:[^\s"'@]*)?@[^\s"']+`)
	stackFramePattern = regexp.MustCompile(`(?m)^\s*(goroutine \d+.*|.*\.go:\d+.*)$`)
)

// Sanitize strips absolute filesystem paths (replacing them with their
// basename), environment-variable-shaped tokens, UUIDs, IPv4 addresses,
// database connection strings, and stack-trace lines from msg, per the
// §4.10 sanitizer rules. It never panics and is safe to apply repeatedly.
func Sanitize(msg string) string {
	out := stackFramePattern.ReplaceAllString(msg, "[stack frame redacted]")
	out = dbConnPattern.ReplaceAllString(out, "[connection string redacted]")
	out = absPathPattern.ReplaceAllStringFunc(out, func(m string) string {
		prefix := ""
		path := m
		if len(m) > 0 && !strings.HasPrefix(m, "/") {
			prefix = string(m[0])
			path = m[1:]
		}
		parts := strings.Split(path, "/")
		base := parts[len(parts)-1]
		if base == "" && len(parts) > 1 {
			base = parts[len(parts)-2]
		}
		return prefix + base
	})
	out = uuidPattern.ReplaceAllString(out, "[uuid redacted]")
	out = ipv4Pattern.ReplaceAllString(out, "[ip redacted]")
	out = envVarPattern.ReplaceAllString(out, "[env redacted]")
	return out
}
