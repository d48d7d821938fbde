package object

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// frontMatter is the on-disk YAML shape. Field order here IS the canonical
// wire order from §6: kind, id, parent, status, title, priority, worktree,
// created, updated, schema_version, prerequisites. yaml.v3 marshals struct
// fields in declaration order, so this ordering is load-bearing.
type frontMatter struct {
	Kind          string   `yaml:"kind"`
	ID            string   `yaml:"id"`
	Parent        *string  `yaml:"parent,omitempty"`
	Status        string   `yaml:"status"`
	Title         string   `yaml:"title"`
	Priority      string   `yaml:"priority"`
	Worktree      *string  `yaml:"worktree,omitempty"`
	Created       string   `yaml:"created"`
	Updated       string   `yaml:"updated"`
	SchemaVersion string   `yaml:"schema_version"`
	Prerequisites []string `yaml:"prerequisites,omitempty"`
}

const delimiter = "---"

// ParseError describes a failure to parse a front-matter document, without
// leaking the raw file content (the sanitizer strips that further upstream,
// but this package never even retains it past the error).
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parsing object file %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("parsing object file: %s", e.Reason)
}

// Parse decodes a file's raw contents into an Object. path is used only for
// error context and is stored as FilePath on success.
func Parse(raw []byte, path string) (*Object, error) {
	text := string(raw)
	if !strings.HasPrefix(strings.TrimLeft(text, "\n"), delimiter) {
		return nil, &ParseError{Path: path, Reason: "missing front-matter delimiter"}
	}

	// Trim a single leading newline if present, then split on the first two
	// "---" lines.
	trimmed := strings.TrimPrefix(text, "\n")
	rest := strings.TrimPrefix(trimmed, delimiter+"\n")
	if rest == trimmed {
		return nil, &ParseError{Path: path, Reason: "missing opening front-matter delimiter"}
	}

	idx := strings.Index(rest, "\n"+delimiter)
	if idx < 0 {
		return nil, &ParseError{Path: path, Reason: "missing closing front-matter delimiter"}
	}

	yamlPart := rest[:idx]
	remainder := rest[idx+len("\n"+delimiter):]
	remainder = strings.TrimPrefix(remainder, "\n")

	var fm frontMatter
	dec := yaml.NewDecoder(bytes.NewReader([]byte(yamlPart)))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil {
		return nil, &ParseError{Path: path, Reason: "invalid or unrecognized YAML front-matter field"}
	}

	obj, err := fromFrontMatter(&fm)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}
	obj.Body = remainder
	obj.FilePath = path
	return obj, nil
}

// fromFrontMatter converts the wire DTO into the domain Object, validating
// field presence and types per §4.2 rules 1-7 (structural checks only;
// parent-existence and cycle checks live in internal/validate).
func fromFrontMatter(fm *frontMatter) (*Object, error) {
	if fm.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}
	kind := Kind(fm.Kind)
	if !kind.IsValid() {
		return nil, fmt.Errorf("unrecognized kind: %q", fm.Kind)
	}
	if fm.ID == "" {
		return nil, fmt.Errorf("missing required field: id")
	}
	if fm.Title == "" {
		return nil, fmt.Errorf("missing required field: title")
	}
	if fm.SchemaVersion == "" {
		return nil, fmt.Errorf("missing required field: schema_version")
	}
	if !IsRecognizedSchemaVersion(fm.SchemaVersion) {
		return nil, fmt.Errorf("unrecognized schema_version: %q", fm.SchemaVersion)
	}

	status := Status(fm.Status)
	if !ValidStatusesFor(kind, status) {
		return nil, fmt.Errorf("status %q is not valid for kind %q", fm.Status, fm.Kind)
	}

	priority := NormalizePriority(fm.Priority)
	if !priority.IsValid() {
		return nil, fmt.Errorf("unrecognized priority: %q", fm.Priority)
	}

	created, err := parseTimestamp(fm.Created, "created")
	if err != nil {
		return nil, err
	}
	updated, err := parseTimestamp(fm.Updated, "updated")
	if err != nil {
		return nil, err
	}

	for _, p := range fm.Prerequisites {
		if !strings.HasPrefix(p, "T-") && !strings.HasPrefix(p, "task-") {
			return nil, fmt.Errorf("prerequisite %q is not a task identifier", p)
		}
		if p == fm.ID {
			return nil, fmt.Errorf("task cannot list itself as its own prerequisite")
		}
	}

	return &Object{
		Kind:          kind,
		ID:            fm.ID,
		Parent:        fm.Parent,
		Status:        status,
		Title:         fm.Title,
		Priority:      priority,
		Worktree:      fm.Worktree,
		Created:       created,
		Updated:       updated,
		SchemaVersion: fm.SchemaVersion,
		Prerequisites: fm.Prerequisites,
	}, nil
}

func parseTimestamp(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing required field: %s", field)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s is not ISO-8601: %q", field, raw)
	}
	return t, nil
}

// Serialize renders an Object back into its on-disk byte form: front-matter
// in canonical field order followed by the body. schema_version is always
// written as CurrentSchemaVersion (§9 upgrade-on-write policy) — callers
// that must preserve an object's on-disk version untouched (read-only
// paths) should not call Serialize.
func Serialize(o *Object) []byte {
	fm := toFrontMatter(o, true)
	return render(fm, o.Body)
}

// SerializePreservingVersion renders an Object without forcing the schema
// upgrade, used by components that need a byte-exact snapshot of what was
// read (e.g. diagnostic tooling). Production write paths use Serialize.
func SerializePreservingVersion(o *Object) []byte {
	fm := toFrontMatter(o, false)
	return render(fm, o.Body)
}

func render(fm *frontMatter, body string) []byte {
	var buf strings.Builder
	yamlBytes, err := yaml.Marshal(fm)
	if err != nil {
		// frontMatter is always a plain struct of strings/slices; Marshal
		// cannot fail for it.
		panic(fmt.Sprintf("object: marshaling front-matter: %v", err))
	}

	buf.WriteString(delimiter)
	buf.WriteString("\n")
	buf.Write(yamlBytes)
	buf.WriteString(delimiter)
	buf.WriteString("\n")
	buf.WriteString(body)

	return []byte(buf.String())
}

func toFrontMatter(o *Object, upgradeSchema bool) *frontMatter {
	version := o.SchemaVersion
	if upgradeSchema || version == "" {
		version = CurrentSchemaVersion
	}
	priority := o.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	return &frontMatter{
		Kind:          string(o.Kind),
		ID:            o.ID,
		Parent:        o.Parent,
		Status:        string(o.Status),
		Title:         o.Title,
		Priority:      string(priority),
		Worktree:      o.Worktree,
		Created:       o.Created.Format(time.RFC3339),
		Updated:       o.Updated.Format(time.RFC3339),
		SchemaVersion: version,
		Prerequisites: o.Prerequisites,
	}
}
