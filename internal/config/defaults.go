package config

// Project root default
const DefaultProjectRoot = "."

// Kind-inference cache defaults (§4.3, §9)
const (
	DefaultKindInferenceCapacity               = 1000
	DefaultKindInferenceHierarchicalTTLSeconds = 60
)

// Audit log default (supplemented feature 4)
const DefaultAuditPath = ".trellis/audit.log"
