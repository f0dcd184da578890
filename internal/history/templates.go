package history

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateID is used when neither the section nor the capsule selects a template.
const DefaultTemplateID = "classic"

//go:embed templates.yaml
var templatesYAML []byte

// Template is a narrative style the model is asked to follow.
type Template struct {
	ID           string `yaml:"id" json:"id"`
	Label        string `yaml:"label" json:"label"`
	Tone         string `yaml:"tone" json:"tone"`
	Description  string `yaml:"description" json:"description"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

type templateCatalog struct {
	Templates []Template `yaml:"templates"`
}

var (
	catalogOnce sync.Once
	catalog     []Template
	catalogErr  error
)

// Templates returns the embedded template catalog.
func Templates() ([]Template, error) {
	catalogOnce.Do(func() {
		catalog, catalogErr = parseTemplates(templatesYAML)
	})
	return catalog, catalogErr
}

func parseTemplates(data []byte) ([]Template, error) {
	var c templateCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	seen := make(map[string]bool, len(c.Templates))
	for _, t := range c.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("parse templates: template without id")
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("parse templates: duplicate id %q", t.ID)
		}
		seen[t.ID] = true
	}
	return c.Templates, nil
}

// FindTemplate looks up a template by id.
func FindTemplate(id string) (Template, bool) {
	all, err := Templates()
	if err != nil {
		return Template{}, false
	}
	for _, t := range all {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// ResolveTemplate picks the section's template, then the capsule's, then the default.
func ResolveTemplate(sectionTemplateID *string, capsuleTemplateID string) Template {
	if sectionTemplateID != nil {
		if t, ok := FindTemplate(*sectionTemplateID); ok {
			return t
		}
	}
	if t, ok := FindTemplate(capsuleTemplateID); ok {
		return t
	}
	t, _ := FindTemplate(DefaultTemplateID)
	return t
}
