package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultTemplate is used when a room is created without naming one.
const DefaultTemplate = "mad-sad-glad"

// TemplateColumn is one initial column of a template.
type TemplateColumn struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Templates maps a template name to its ordered initial columns.
type Templates map[string][]TemplateColumn

// BuiltinTemplates returns a fresh copy of the built-in catalog.
func BuiltinTemplates() Templates {
	return Templates{
		"mad-sad-glad": {
			{Name: "Mad", Description: "What made you frustrated?"},
			{Name: "Sad", Description: "What made you feel down?"},
			{Name: "Glad", Description: "What made you happy?"},
		},
		"start-stop-continue": {
			{Name: "Start", Description: "What should we start doing?"},
			{Name: "Stop", Description: "What should we stop doing?"},
			{Name: "Continue", Description: "What should we continue doing?"},
		},
		"liked-learned-lacked": {
			{Name: "Liked", Description: "What did you like?"},
			{Name: "Learned", Description: "What did you learn?"},
			{Name: "Lacked", Description: "What was lacking?"},
		},
		"blank": {},
	}
}

// Columns returns the initial columns for name. Unknown names yield a blank board.
func (t Templates) Columns(name string) []TemplateColumn {
	cols := t[name]
	out := make([]TemplateColumn, len(cols))
	copy(out, cols)
	return out
}

// LoadTemplates reads a YAML catalog and merges it over the built-in one.
//
//	retro-five:
//	  - name: Drop
//	    description: What should we drop?
func LoadTemplates(path string) (Templates, error) {
	templates := BuiltinTemplates()
	if path == "" {
		return templates, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var extra Templates
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	for name, cols := range extra {
		for i, c := range cols {
			if err := validText("name", c.Name, MaxNameLength); err != nil {
				return nil, fmt.Errorf("template %s column %d: %w", name, i, err)
			}
		}
		templates[name] = cols
	}
	return templates, nil
}
