package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed property_types.yaml
var defaultTypeDictionary []byte

// PropertyTypeEntry is one canonical type with its free-text keywords.
type PropertyTypeEntry struct {
	Slug     string   `yaml:"slug"`
	Group    string   `yaml:"group"`
	Keywords []string `yaml:"keywords"`
}

// TypeDictionary is the static keyword dictionary used to map scraped
// property types onto the canonical taxonomy.
type TypeDictionary struct {
	Types []PropertyTypeEntry `yaml:"types"`
}

// LoadTypeDictionary reads the dictionary at path, or the embedded default
// when path is empty.
func LoadTypeDictionary(path string) (*TypeDictionary, error) {
	data := defaultTypeDictionary
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read type dictionary %q: %w", path, err)
		}
		data = raw
	}
	return ParseTypeDictionary(data)
}

// ParseTypeDictionary decodes and checks a YAML dictionary.
func ParseTypeDictionary(data []byte) (*TypeDictionary, error) {
	var d TypeDictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse type dictionary: %w", err)
	}
	if len(d.Types) == 0 {
		return nil, fmt.Errorf("config: type dictionary has no types")
	}
	seen := make(map[string]struct{}, len(d.Types))
	for i, t := range d.Types {
		if t.Slug == "" {
			return nil, fmt.Errorf("config: type dictionary entry %d has no slug", i)
		}
		if _, dup := seen[t.Slug]; dup {
			return nil, fmt.Errorf("config: duplicate type slug %q", t.Slug)
		}
		seen[t.Slug] = struct{}{}
	}
	return &d, nil
}
