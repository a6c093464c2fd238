package templates

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

type templateFile struct {
	Templates []struct {
		Name     string `yaml:"name"`
		Language string `yaml:"language,omitempty"`
		Body     string `yaml:"body"`
	} `yaml:"templates"`
}

// LoadFile reads a YAML template catalogue of the form:
//
//	templates:
//	  - name: order_update
//	    language: en
//	    body: "Hi {{name}}, order {{order}} has shipped"
func LoadFile(path string) ([]Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templates: read catalogue: %w", err)
	}
	return ParseFile(raw)
}

// ParseFile decodes a YAML template catalogue.
func ParseFile(raw []byte) ([]Template, error) {
	var file templateFile
	if err := yaml.UnmarshalStrict(raw, &file); err != nil {
		return nil, fmt.Errorf("templates: decode catalogue: %w", err)
	}
	out := make([]Template, 0, len(file.Templates))
	for i, t := range file.Templates {
		name, language := normalizeKey(t.Name, t.Language)
		if name == "" {
			return nil, fmt.Errorf("templates: entry %d has no name", i)
		}
		if strings.TrimSpace(t.Body) == "" {
			return nil, fmt.Errorf("templates: %s has an empty body", name)
		}
		out = append(out, Template{Name: name, Language: language, Body: t.Body})
	}
	return out, nil
}
