package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConfigValueType defines the expected type for a configuration value.
type ConfigValueType int

const (
	TypeBool ConfigValueType = iota
	TypeInt
	TypeFloat
	TypeDuration
	TypeString
	TypeEnum
)

// String returns the string representation of ConfigValueType.
func (t ConfigValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDuration:
		return "duration"
	case TypeString:
		return "string"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ConfigKeySchema defines a known configuration key with its expected type and validation rules.
type ConfigKeySchema struct {
	Path          string          // Dotted key path (e.g., "qa.max_iterations")
	Type          ConfigValueType // Expected value type for validation
	AllowedValues []string        // Valid values for enum types (empty for non-enums)
	Description   string          // Human-readable description for help text
	Default       interface{}     // Default value
}

// KnownKeys is the registry of all known configuration keys with their schemas.
var KnownKeys = map[string]ConfigKeySchema{
	"state_dir": {
		Path:        "state_dir",
		Type:        TypeString,
		Description: "Engine state directory relative to the repo root",
		Default:     ".specforge",
	},
	"base_branch": {
		Path:        "base_branch",
		Type:        TypeString,
		Description: "Base branch for worktree creation and merges (empty = auto-detect)",
		Default:     "",
	},
	"log.level": {
		Path:          "log.level",
		Type:          TypeEnum,
		AllowedValues: []string{"debug", "info", "warn", "error"},
		Description:   "Minimum log level",
		Default:       "info",
	},
	"log.format": {
		Path:          "log.format",
		Type:          TypeEnum,
		AllowedValues: []string{"text", "json"},
		Description:   "Log output format",
		Default:       "text",
	},
	"worktree.branch_prefix": {
		Path:        "worktree.branch_prefix",
		Type:        TypeString,
		Description: "Branch namespace for spec worktrees (<prefix>/<spec-slug>)",
		Default:     "specforge",
	},
	"worktree.push_retries": {
		Path:        "worktree.push_retries",
		Type:        TypeInt,
		Description: "Attempts for transient push/fetch failures (exponential backoff)",
		Default:     3,
	},
	"session.max_age_hours": {
		Path:        "session.max_age_hours",
		Type:        TypeInt,
		Description: "Sessions older than this are force-failed during cleanup",
		Default:     24,
	},
	"pipeline.interactive": {
		Path:        "pipeline.interactive",
		Type:        TypeBool,
		Description: "Run the requirements phase before complexity assessment",
		Default:     true,
	},
	"pipeline.max_retries": {
		Path:        "pipeline.max_retries",
		Type:        TypeInt,
		Description: "Extra attempts per pipeline phase after the first failure",
		Default:     2,
	},
	"pipeline.skip_impact_analysis": {
		Path:        "pipeline.skip_impact_analysis",
		Type:        TypeBool,
		Description: "Skip the impact analysis phase even when recommended",
		Default:     false,
	},
	"qa.max_iterations": {
		Path:        "qa.max_iterations",
		Type:        TypeInt,
		Description: "Hard ceiling on review/fix iterations before escalation",
		Default:     50,
	},
	"qa.max_consecutive_errors": {
		Path:        "qa.max_consecutive_errors",
		Type:        TypeInt,
		Description: "Consecutive iteration errors before escalation",
		Default:     3,
	},
	"qa.auto_fix": {
		Path:        "qa.auto_fix",
		Type:        TypeBool,
		Description: "Apply machine-generated fixes automatically when safe",
		Default:     true,
	},
	"qa.run_tests": {
		Path:        "qa.run_tests",
		Type:        TypeBool,
		Description: "Execute the project's tests during review",
		Default:     true,
	},
	"qa.min_fix_confidence": {
		Path:        "qa.min_fix_confidence",
		Type:        TypeFloat,
		Description: "Minimum confidence for auto-applying a fix (0.0-1.0)",
		Default:     0.7,
	},
	"index.ttl_seconds": {
		Path:        "index.ttl_seconds",
		Type:        TypeInt,
		Description: "In-memory project index cache TTL",
		Default:     300,
	},
}

// ErrUnknownKey is returned when trying to access an unknown configuration key.
type ErrUnknownKey struct {
	Key string
}

func (e ErrUnknownKey) Error() string {
	return "unknown configuration key: " + e.Key
}

// GetKeySchema returns the schema for a known configuration key.
// Returns ErrUnknownKey if the key is not in the registry.
func GetKeySchema(path string) (ConfigKeySchema, error) {
	schema, ok := KnownKeys[path]
	if !ok {
		return ConfigKeySchema{}, ErrUnknownKey{Key: path}
	}
	return schema, nil
}

// ParsedValue represents a configuration value after type inference and validation.
type ParsedValue struct {
	Raw    string      // Original string input from user
	Parsed interface{} // Value converted to correct type
	Type   ConfigValueType
}

// ValidateValue validates a value against the schema for a given key.
// Returns the parsed value or an error with details about what's wrong.
func ValidateValue(key, value string) (ParsedValue, error) {
	schema, err := GetKeySchema(key)
	if err != nil {
		return ParsedValue{}, err
	}
	return validateAgainstSchema(schema, value)
}

// validateAgainstSchema validates a value against a specific schema.
func validateAgainstSchema(schema ConfigKeySchema, value string) (ParsedValue, error) {
	switch schema.Type {
	case TypeBool:
		return parseBoolValue(value)
	case TypeInt:
		return parseIntValue(value)
	case TypeFloat:
		return parseFloatValue(value)
	case TypeDuration:
		return parseDurationValue(value)
	case TypeEnum:
		return parseEnumValue(schema, value)
	case TypeString:
		return ParsedValue{Raw: value, Parsed: value, Type: TypeString}, nil
	default:
		return ParsedValue{}, fmt.Errorf("unsupported type: %v", schema.Type)
	}
}

func parseBoolValue(value string) (ParsedValue, error) {
	switch strings.ToLower(value) {
	case "true":
		return ParsedValue{Raw: value, Parsed: true, Type: TypeBool}, nil
	case "false":
		return ParsedValue{Raw: value, Parsed: false, Type: TypeBool}, nil
	default:
		return ParsedValue{}, fmt.Errorf("invalid boolean: %q (expected true or false)", value)
	}
}

func parseIntValue(value string) (ParsedValue, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return ParsedValue{}, fmt.Errorf("invalid integer: %q", value)
	}
	return ParsedValue{Raw: value, Parsed: n, Type: TypeInt}, nil
}

func parseFloatValue(value string) (ParsedValue, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return ParsedValue{}, fmt.Errorf("invalid float: %q", value)
	}
	return ParsedValue{Raw: value, Parsed: f, Type: TypeFloat}, nil
}

func parseDurationValue(value string) (ParsedValue, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return ParsedValue{}, fmt.Errorf("invalid duration: %q (examples: 5m, 1h30m, 10s)", value)
	}
	return ParsedValue{Raw: value, Parsed: d.String(), Type: TypeDuration}, nil
}

func parseEnumValue(schema ConfigKeySchema, value string) (ParsedValue, error) {
	for _, allowed := range schema.AllowedValues {
		if value == allowed {
			return ParsedValue{Raw: value, Parsed: value, Type: TypeEnum}, nil
		}
	}
	return ParsedValue{}, fmt.Errorf(
		"invalid value: %q (valid options: %s)",
		value,
		strings.Join(schema.AllowedValues, ", "),
	)
}
