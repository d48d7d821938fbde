// Package validate implements the aggregating validation pipeline (§4.5):
// rather than failing on the first problem, every check runs and the
// results are collected into a severity-sorted errtax.Collector.
package validate

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/trellis-mcp/trellis/internal/depgraph"
	"github.com/trellis-mcp/trellis/internal/errtax"
	"github.com/trellis-mcp/trellis/internal/object"
	"github.com/trellis-mcp/trellis/internal/resolver"
)

// maxIDFieldLength bounds any ID-bearing field to guard against
// pathological inputs designed to exhaust memory or defeat length-based
// timing normalization (§4.5 "excessive length").
const maxIDFieldLength = 256

var forbiddenFieldNames = map[string]bool{
	"__proto__":  true,
	"constructor": true,
	"prototype":  true,
}

var nullLiterals = map[string]bool{
	"null":      true,
	"none":      true,
	"undefined": true,
	"nil":       true,
}

// Validator runs the §4.5 checks against objects resolved under a root.
type Validator struct {
	resolver *resolver.Resolver
}

// New creates a Validator using res to resolve parent references.
func New(res *resolver.Resolver) *Validator {
	return &Validator{resolver: res}
}

// ValidateObject runs every §4.5 check for a single object being created or
// updated, given the full set of known tasks for cycle and prerequisite
// checks (typically the output of scanner.ScanTasks). It never short-circuits
// on the first failure; callers inspect the returned Collector.
func (v *Validator) ValidateObject(obj *object.Object, root string, knownTasks []*object.Object) *errtax.Collector {
	c := errtax.NewCollector()

	v.checkSecurity(c, "parent", obj.Parent)
	for i, p := range obj.Prerequisites {
		v.checkSecurity(c, fieldName("prerequisites", i), &p)
	}

	v.checkParentExists(c, obj, root)

	if obj.Kind == object.KindTask {
		v.checkAcyclic(c, obj, knownTasks)
	}

	return c
}

func fieldName(base string, i int) string {
	return base + "[" + strconv.Itoa(i) + "]"
}

// checkSecurity rejects control characters, path-traversal tokens,
// null/none/undefined literals, excessive length, whitespace-only values,
// and forbidden field names on any ID-bearing field (§4.5). A nil value is
// not an error here — absence is a structural concern, not a security one.
func (v *Validator) checkSecurity(c *errtax.Collector, field string, value *string) {
	if value == nil {
		return
	}
	raw := *value

	if len(raw) > maxIDFieldLength {
		c.Add(field, errtax.CodeSecurityViolation, "value exceeds maximum permitted length", nil)
		return
	}
	if strings.TrimSpace(raw) == "" {
		c.Add(field, errtax.CodeSecurityViolation, "value is whitespace-only", nil)
		return
	}
	for _, r := range raw {
		if unicode.IsControl(r) {
			c.Add(field, errtax.CodeSecurityViolation, "value contains control characters", nil)
			return
		}
	}
	if strings.Contains(raw, "..") || strings.Contains(raw, "~") || strings.HasPrefix(raw, "/") || strings.ContainsAny(raw, "%\x00") {
		c.Add(field, errtax.CodeSecurityViolation, "value contains path-traversal tokens", nil)
		return
	}
	if nullLiterals[strings.ToLower(strings.TrimSpace(raw))] {
		c.Add(field, errtax.CodeSecurityViolation, "value is a null-shaped literal", nil)
		return
	}
	if forbiddenFieldNames[strings.ToLower(raw)] {
		c.Add(field, errtax.CodeSecurityViolation, "value names a forbidden identifier", nil)
		return
	}
}

// expectedParentKind reports the kind §3's containment table requires of
// kind's parent: Epic->Project, Feature->Epic, Task->Feature. Projects
// never have a parent, so they're not represented here.
func expectedParentKind(kind object.Kind) object.Kind {
	switch kind {
	case object.KindEpic:
		return object.KindProject
	case object.KindFeature:
		return object.KindEpic
	case object.KindTask:
		return object.KindFeature
	default:
		return ""
	}
}

// checkParentExists enforces §4.5's "for non-standalone, non-project
// objects, parent must resolve" rule, with a contextual message
// discriminating standalone vs hierarchical tasks where relevant. It also
// enforces §3's containment table: a parent ID that resolves to an object
// of the wrong kind (e.g. a Feature naming a Project as its parent) is a
// cross-system reference conflict, not a passing parent-exists check.
func (v *Validator) checkParentExists(c *errtax.Collector, obj *object.Object, root string) {
	if obj.Kind == object.KindProject {
		return
	}
	if obj.Kind == object.KindTask && obj.Parent == nil {
		return // standalone task: parent is legitimately absent
	}
	if obj.Parent == nil {
		c.Add("parent", errtax.CodeMissingRequiredField, "parent is required for "+string(obj.Kind)+" objects", nil)
		return
	}

	parentKind, bareParent, err := resolver.SplitID(*obj.Parent)
	if err != nil {
		c.Add("parent", errtax.CodeInvalidIDFormat, "parent id is not a recognized identifier", map[string]string{"parent": *obj.Parent})
		return
	}

	discriminator := "hierarchical task"
	if obj.Kind != object.KindTask {
		discriminator = string(obj.Kind)
	}

	if want := expectedParentKind(obj.Kind); parentKind != want {
		c.Add("parent", errtax.CodeCrossSystemReferenceConflict,
			discriminator+" references a parent of the wrong kind",
			map[string]string{"parent": *obj.Parent, "sourceKind": string(obj.Kind), "expectedParentKind": string(want), "actualParentKind": string(parentKind)})
		return
	}

	if _, err := v.resolver.IDToPath(parentKind, bareParent, root); err != nil {
		c.Add("parent", errtax.CodeParentNotFound,
			discriminator+" references a parent that does not exist",
			map[string]string{"parent": *obj.Parent, "sourceKind": string(obj.Kind), "targetKind": string(parentKind)})
	}
}

// checkAcyclic runs the incremental cycle check from §4.6 over the
// provided task set, substituting obj's own prerequisites into the graph.
func (v *Validator) checkAcyclic(c *errtax.Collector, obj *object.Object, knownTasks []*object.Object) {
	if cyc := depgraph.WouldIntroduceCycle(knownTasks, obj.ID, obj.Prerequisites); cyc != nil {
		c.Add("prerequisites", errtax.CodeCycleDetected,
			"prerequisites introduce a cycle",
			map[string]string{"cycle": strings.Join(cyc.Path, " -> ")})
	}
}
