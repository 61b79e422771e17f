/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package presets ships the built-in system playlists seeded into every
// library.
package presets

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var presetsYAML []byte

// Rule is one predicate of a preset definition.
type Rule struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
	Value2   string `yaml:"value_2"`
}

// Preset describes one built-in system playlist.
type Preset struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	MatchMode      string `yaml:"match_mode"`
	OrderBy        string `yaml:"order_by"`
	OrderDirection string `yaml:"order_direction"`
	Limit          *int   `yaml:"limit"`
	Rules          []Rule `yaml:"rules"`
}

// Defaults returns the built-in system playlist definitions.
func Defaults() ([]Preset, error) {
	var doc struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(presetsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse embedded presets: %w", err)
	}
	if len(doc.Presets) == 0 {
		return nil, fmt.Errorf("embedded presets file is empty")
	}
	return doc.Presets, nil
}
