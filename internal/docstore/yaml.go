package docstore

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// YAMLCodec parses documents into a yaml.v3 node tree.
type YAMLCodec struct{}

func (YAMLCodec) Name() string { return "yaml" }

// Parse accepts an empty input as an empty mapping.
func (YAMLCodec) Parse(data []byte) (Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if root.Kind == 0 {
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
		}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse yaml: top level must be a mapping")
	}
	return &yamlDocument{root: &root}, nil
}

type yamlDocument struct {
	root *yaml.Node
}

func (d *yamlDocument) mapping() *yaml.Node {
	return d.root.Content[0]
}

// lookup returns the value node for name in a mapping node.
func lookup(m *yaml.Node, name string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == name {
			return m.Content[i+1]
		}
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func (d *yamlDocument) Get(key string) (string, bool) {
	parts, err := splitKey(key)
	if err != nil {
		return "", false
	}
	node := d.mapping()
	for _, p := range parts {
		if node.Kind != yaml.MappingNode {
			return "", false
		}
		if node = lookup(node, p); node == nil {
			return "", false
		}
	}
	if node.Kind != yaml.ScalarNode {
		return "", false
	}
	if isNull(node) {
		return "", true
	}
	return node.Value, true
}

func (d *yamlDocument) Set(key, value string) error {
	parts, err := splitKey(key)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	node := d.mapping()
	for i, p := range parts {
		last := i == len(parts)-1
		child := lookup(node, p)

		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if last {
				child = &yaml.Node{Kind: yaml.ScalarNode}
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p},
				child,
			)
		}

		if last {
			if child.Kind != yaml.ScalarNode {
				return fmt.Errorf("%w: %q holds a %s", ErrNotMapping, key, kindName(child))
			}
			child.Value = value
			child.Tag = ""
			child.Style = 0
			return nil
		}

		switch {
		case child.Kind == yaml.MappingNode:
		case isNull(child):
			child.Kind = yaml.MappingNode
			child.Tag = "!!map"
			child.Value = ""
			child.Style = 0
		default:
			return fmt.Errorf("%w: %q", ErrNotMapping, key)
		}
		node = child
	}
	return nil
}

func (d *yamlDocument) Flatten() map[string]string {
	out := make(map[string]string)
	flattenNode(d.mapping(), "", out)
	return out
}

func flattenNode(n *yaml.Node, prefix string, out map[string]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			flattenNode(n.Content[i+1], join(n.Content[i].Value), out)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			flattenNode(c, join(strconv.Itoa(i)), out)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			flattenNode(n.Alias, prefix, out)
		}
	case yaml.ScalarNode:
		if isNull(n) {
			out[prefix] = ""
		} else {
			out[prefix] = n.Value
		}
	}
}

func (d *yamlDocument) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	default:
		return "scalar"
	}
}
