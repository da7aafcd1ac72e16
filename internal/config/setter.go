package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyKeyPath is returned when a key path is empty.
var ErrEmptyKeyPath = errors.New("empty key path")

// ParseKeyPath splits a dotted key path into its segments.
// Example: "qa.max_iterations" -> ["qa", "max_iterations"]
func ParseKeyPath(path string) ([]string, error) {
	if path == "" {
		return nil, ErrEmptyKeyPath
	}
	return strings.Split(path, "."), nil
}

// SetConfigValue validates and writes a single key to the config file at
// configPath, creating the file (and parent directories) if needed. Existing
// keys and comments in the file are preserved by editing the YAML node tree
// in place.
func SetConfigValue(configPath, key, value string) error {
	parsed, err := ValidateValue(key, value)
	if err != nil {
		return err
	}

	keyPath, err := ParseKeyPath(key)
	if err != nil {
		return err
	}

	var root yaml.Node
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := yaml.Unmarshal(data, &root); err != nil {
				return fmt.Errorf("parsing %s: %w", configPath, err)
			}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("reading %s: %w", configPath, err)
	}

	if err := SetNestedValue(&root, keyPath, parsed.Parsed); err != nil {
		return err
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

// GetConfigValue reads a single key from the config file at configPath.
// The second return value reports whether the key was present in the file.
// Unknown keys are rejected before the file is touched.
func GetConfigValue(configPath, key string) (string, bool, error) {
	if _, err := GetKeySchema(key); err != nil {
		return "", false, err
	}
	keyPath, err := ParseKeyPath(key)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return "", false, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	node := GetNestedValue(&root, keyPath)
	if node == nil {
		return "", false, nil
	}
	return node.Value, true, nil
}

// SetNestedValue sets a value at the given key path in a YAML node tree,
// creating intermediate mappings as needed. The tree may be empty.
func SetNestedValue(root *yaml.Node, keyPath []string, value interface{}) error {
	if len(keyPath) == 0 {
		return ErrEmptyKeyPath
	}

	mapping := ensureDocumentMapping(root)
	for _, key := range keyPath[:len(keyPath)-1] {
		mapping = ensureChildMapping(mapping, key)
	}

	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	setMappingKey(mapping, keyPath[len(keyPath)-1], &valueNode)
	return nil
}

// GetNestedValue returns the node at the given key path, or nil if any
// segment is missing.
func GetNestedValue(root *yaml.Node, keyPath []string) *yaml.Node {
	if root == nil || len(keyPath) == 0 {
		return nil
	}
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil
		}
		node = node.Content[0]
	}
	for _, key := range keyPath {
		if node.Kind != yaml.MappingNode {
			return nil
		}
		node = findMappingValue(node, key)
		if node == nil {
			return nil
		}
	}
	return node
}

// ensureDocumentMapping returns the root mapping node, initializing an empty
// document if the tree has no content yet.
func ensureDocumentMapping(root *yaml.Node) *yaml.Node {
	if root.Kind == 0 {
		root.Kind = yaml.DocumentNode
		root.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			root.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
		}
		return root.Content[0]
	}
	return root
}

// ensureChildMapping returns the mapping under key, creating it if missing.
func ensureChildMapping(mapping *yaml.Node, key string) *yaml.Node {
	if existing := findMappingValue(mapping, key); existing != nil {
		return existing
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	valNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	mapping.Content = append(mapping.Content, keyNode, valNode)
	return valNode
}

// setMappingKey replaces the value for key, or appends a new entry.
func setMappingKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(mapping.Content)-1; i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	mapping.Content = append(mapping.Content, keyNode, value)
}

// findMappingValue returns the value node for key, or nil.
func findMappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(mapping.Content)-1; i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
