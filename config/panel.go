package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/klejdi94/synthpanel/core"
)

// Panel is a reusable evaluation setup: the question, anchor sets and consumer profiles.
// Empty sections fall back to the built-in defaults.
type Panel struct {
	Question   string
	AnchorSets []core.AnchorSet
	Profiles   []core.DemographicProfile
}

type panelFile struct {
	Question   string `yaml:"question"`
	AnchorSets []struct {
		Name       string   `yaml:"name"`
		Statements []string `yaml:"statements"`
	} `yaml:"anchor_sets"`
	Profiles []struct {
		ID         string    `yaml:"id"`
		Attributes yaml.Node `yaml:"attributes"`
	} `yaml:"profiles"`
}

// LoadPanel reads a YAML panel file.
func LoadPanel(path string) (*Panel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read panel: %w", err)
	}
	return ParsePanel(data)
}

// ParsePanel decodes a YAML panel. Profile attributes keep their order in the document.
func ParsePanel(data []byte) (*Panel, error) {
	var f panelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse panel: %w", err)
	}
	p := &Panel{Question: f.Question}
	for i, a := range f.AnchorSets {
		name := a.Name
		if name == "" {
			name = fmt.Sprint(i + 1)
		}
		set, err := core.NewAnchorSet(name, a.Statements...)
		if err != nil {
			return nil, fmt.Errorf("config: anchor set %q: %w", name, err)
		}
		p.AnchorSets = append(p.AnchorSets, set)
	}
	for i, pf := range f.Profiles {
		id := pf.ID
		if id == "" {
			id = fmt.Sprint(i + 1)
		}
		attrs, err := attributes(&pf.Attributes)
		if err != nil {
			return nil, fmt.Errorf("config: profile %q: %w", id, err)
		}
		profile, err := core.NewProfile(id, attrs...)
		if err != nil {
			return nil, fmt.Errorf("config: profile %q: %w", id, err)
		}
		p.Profiles = append(p.Profiles, profile)
	}
	return p, nil
}

// WithDefaults fills empty sections from the built-in anchor sets and profiles.
func (p *Panel) WithDefaults() *Panel {
	out := *p
	if len(out.AnchorSets) == 0 {
		out.AnchorSets = core.DefaultAnchorSets()
	}
	if len(out.Profiles) == 0 {
		out.Profiles = core.DefaultProfiles()
	}
	return &out
}

func attributes(n *yaml.Node) ([]core.Attribute, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("attributes must be a mapping (line %d)", n.Line)
	}
	attrs := make([]core.Attribute, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			attrs = append(attrs, core.Scalar(key, val.Value))
		case yaml.SequenceNode:
			values := make([]string, 0, len(val.Content))
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("attribute %q: list items must be scalars (line %d)", key, item.Line)
				}
				values = append(values, item.Value)
			}
			attrs = append(attrs, core.List(key, values...))
		default:
			return nil, fmt.Errorf("attribute %q: unsupported value (line %d)", key, val.Line)
		}
	}
	return attrs, nil
}
