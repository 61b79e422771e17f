/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rules evaluates smart playlist rules against the track catalog.
//
// Rules are (field, operator, value, value_2) predicates over a fixed field
// whitelist. They compile into parameterized SQL fragments; user input never
// reaches the query text, only bind arguments.
package rules

import "github.com/aiulian25/soundwave/internal/models"

// Operator names accepted in rule definitions.
const (
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"

	OpGreaterThan  = "greater_than"
	OpLessThan     = "less_than"
	OpGreaterEqual = "greater_equal"
	OpLessEqual    = "less_equal"
	OpBetween      = "between"

	OpInLastDays    = "in_last_days"
	OpNotInLastDays = "not_in_last_days"
	OpBeforeDate    = "before_date"
	OpAfterDate     = "after_date"

	OpIsTrue  = "is_true"
	OpIsFalse = "is_false"

	OpIsSet    = "is_set"
	OpIsNotSet = "is_not_set"
)

// Order directions.
const (
	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// Rule is a single predicate, decoupled from its persisted form so unsaved
// rule sets (previews) evaluate the same way as stored ones.
type Rule struct {
	Field    string
	Operator string
	Value    string
	Value2   string
}

// Definition is one full evaluation request.
type Definition struct {
	Rules          []Rule
	MatchMode      models.MatchMode
	OrderBy        string
	OrderDirection string
	Limit          *int
	Seed           int64 // shuffle seed for random ordering; 0 draws from the clock
}

type fieldClass int

const (
	classText fieldClass = iota
	classNumeric
	classDate
	classBool
)

type fieldSpec struct {
	column string
	class  fieldClass
}

// fieldTable is the whitelist of rule fields. The column names are literals;
// nothing user-supplied is ever interpolated into query text.
var fieldTable = map[string]fieldSpec{
	"title":        {column: "title", class: classText},
	"artist":       {column: "artist", class: classText},
	"album":        {column: "album", class: classText},
	"genre":        {column: "genre", class: classText},
	"channel_name": {column: "channel_name", class: classText},

	"year":       {column: "year", class: classNumeric},
	"play_count": {column: "play_count", class: classNumeric},
	"duration":   {column: "duration_seconds", class: classNumeric},

	"last_played": {column: "last_played_at", class: classDate},
	"added_at":    {column: "added_at", class: classDate},

	"is_favorite": {column: "is_favorite", class: classBool},
}

// operatorTable lists the operators each field class accepts. Nullness checks
// apply to text and date fields; numeric and boolean columns are never null.
var operatorTable = map[fieldClass]map[string]bool{
	classText: {
		OpContains:    true,
		OpNotContains: true,
		OpEquals:      true,
		OpNotEquals:   true,
		OpStartsWith:  true,
		OpEndsWith:    true,
		OpIsSet:       true,
		OpIsNotSet:    true,
	},
	classNumeric: {
		OpGreaterThan:  true,
		OpLessThan:     true,
		OpGreaterEqual: true,
		OpLessEqual:    true,
		OpBetween:      true,
	},
	classDate: {
		OpInLastDays:    true,
		OpNotInLastDays: true,
		OpBeforeDate:    true,
		OpAfterDate:     true,
		OpIsSet:         true,
		OpIsNotSet:      true,
	},
	classBool: {
		OpIsTrue:  true,
		OpIsFalse: true,
	},
}

// OrderableFields returns the fields accepted by ValidateOrdering, excluding
// the random pseudo-order.
func OrderableFields() []string {
	fields := make([]string, 0, len(fieldTable))
	for name := range fieldTable {
		fields = append(fields, name)
	}
	return fields
}
