package forge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadGraph loads a graph from a JSON or YAML file.
// YAML files use the same field names as the JSON wire format.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseGraphYAML(data)
	default:
		return ParseGraph(data)
	}
}

// ParseGraph decodes a graph from its JSON wire format.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse graph JSON: %w", err)
	}
	return &g, nil
}

// ParseGraphYAML decodes a YAML document by re-encoding it as JSON so the
// node variant codec stays in one place.
func ParseGraphYAML(data []byte) (*Graph, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse graph YAML: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert graph YAML: %w", err)
	}
	return ParseGraph(b)
}
