package refcodes

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads codes from a YAML document. JSON is valid YAML, so exported JSON
// lists load unchanged.
type FileSource struct {
	Path string
}

// document accepts either a bare list or {codes: [...]}.
type document struct {
	Codes []Code `yaml:"codes"`
}

func (f FileSource) Load(_ context.Context) ([]Code, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return ParseYAML(b)
}

func ParseYAML(b []byte) ([]Code, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(b, &node); err != nil {
		return nil, fmt.Errorf("parse codes: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var codes []Code
		if err := root.Decode(&codes); err != nil {
			return nil, fmt.Errorf("decode codes: %w", err)
		}
		return codes, nil
	case yaml.MappingNode:
		var doc document
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode codes: %w", err)
		}
		return doc.Codes, nil
	default:
		return nil, fmt.Errorf("codes document must be a list or a mapping with a codes key")
	}
}
