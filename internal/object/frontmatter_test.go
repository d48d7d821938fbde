package object

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample builds a canonical fixture by serializing an Object, so the test
// fixture's exact YAML scalar styling always matches what this package's
// own encoder produces (the round-trip law is about stability under
// load(write(x)), not about matching a hand-guessed encoding).
func sample(t *testing.T) (*Object, []byte) {
	t.Helper()
	parent := "F-auth"
	obj := &Object{
		Kind:          KindTask,
		ID:            "T-login-form",
		Parent:        &parent,
		Status:        StatusOpen,
		Title:         "Build the login form",
		Priority:      PriorityHigh,
		Created:       mustTime(t, "2025-01-01T10:00:00Z"),
		Updated:       mustTime(t, "2025-01-01T10:00:00Z"),
		SchemaVersion: CurrentSchemaVersion,
		Prerequisites: []string{"T-auth-api"},
		Body:          "### Log\n(empty)\n",
	}
	return obj, Serialize(obj)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func TestParse_Basic(t *testing.T) {
	_, raw := sample(t)
	obj, err := Parse(raw, "/tmp/T-login-form.md")
	require.NoError(t, err)

	assert.Equal(t, KindTask, obj.Kind)
	assert.Equal(t, "T-login-form", obj.ID)
	require.NotNil(t, obj.Parent)
	assert.Equal(t, "F-auth", *obj.Parent)
	assert.Equal(t, StatusOpen, obj.Status)
	assert.Equal(t, PriorityHigh, obj.Priority)
	assert.Equal(t, []string{"T-auth-api"}, obj.Prerequisites)
	assert.Equal(t, "### Log\n(empty)\n", obj.Body)
	assert.Equal(t, "/tmp/T-login-form.md", obj.FilePath)
}

func TestParse_MediumPriorityCoercedToNormal(t *testing.T) {
	raw := `---
kind: project
id: P-demo
status: draft
title: Demo
priority: medium
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "1.1"
---
`
	obj, err := Parse([]byte(raw), "")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, obj.Priority)
}

func TestParse_RejectsSelfPrerequisite(t *testing.T) {
	raw := `---
kind: task
id: T-x
status: open
title: X
priority: normal
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "1.1"
prerequisites:
    - T-x
---
`
	_, err := Parse([]byte(raw), "")
	require.Error(t, err)
}

func TestParse_RejectsUnknownSchemaVersion(t *testing.T) {
	raw := `---
kind: task
id: T-x
status: open
title: X
priority: normal
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "9.9"
---
`
	_, err := Parse([]byte(raw), "")
	require.Error(t, err)
}

func TestParse_AcceptsSchema10(t *testing.T) {
	raw := `---
kind: task
id: T-x
status: open
title: X
priority: normal
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "1.0"
---
`
	obj, err := Parse([]byte(raw), "")
	require.NoError(t, err)
	assert.Equal(t, "1.0", obj.SchemaVersion)
}

func TestParse_RejectsUnknownFrontMatterField(t *testing.T) {
	raw := `---
kind: task
id: T-x
status: open
title: X
priority: normal
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "1.1"
owner: someone-unexpected
---
`
	_, err := Parse([]byte(raw), "")
	require.Error(t, err)
}

func TestParse_RejectsBadStatusForKind(t *testing.T) {
	raw := `---
kind: project
id: P-x
status: review
title: X
priority: normal
created: 2025-01-01T10:00:00Z
updated: 2025-01-01T10:00:00Z
schema_version: "1.1"
---
`
	_, err := Parse([]byte(raw), "")
	require.Error(t, err)
}

// TestRoundTrip verifies the §8 round-trip law: serialize(parse(F)) == F
// bytewise, for a file already in canonical field order and current schema.
func TestRoundTrip(t *testing.T) {
	_, raw := sample(t)

	obj, err := Parse(raw, "")
	require.NoError(t, err)

	out := Serialize(obj)
	assert.Equal(t, string(raw), string(out))
}

func TestSerialize_FieldOrderIsCanonical(t *testing.T) {
	parent := "F-auth"
	obj := &Object{
		Kind:          KindTask,
		ID:            "T-x",
		Parent:        &parent,
		Status:        StatusOpen,
		Title:         "X",
		Priority:      PriorityNormal,
		SchemaVersion: CurrentSchemaVersion,
	}
	out := string(Serialize(obj))

	fields := []string{"kind:", "id:", "parent:", "status:", "title:", "priority:", "created:", "updated:", "schema_version:"}
	last := -1
	for _, f := range fields {
		idx := indexOf(out, f)
		require.Greaterf(t, idx, last, "field %s out of canonical order", f)
		last = idx
	}
}

func TestSerialize_UpgradesSchemaVersionOnWrite(t *testing.T) {
	obj := &Object{
		Kind:          KindTask,
		ID:            "T-x",
		Status:        StatusOpen,
		Title:         "X",
		Priority:      PriorityNormal,
		SchemaVersion: "1.0",
	}
	out := string(Serialize(obj))
	assert.Contains(t, out, `schema_version: "1.1"`)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
