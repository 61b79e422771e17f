/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rules

import "fmt"

// InvalidRuleError reports a field or operator outside the whitelist. The
// message echoes only the caller's input, never internal column names.
type InvalidRuleError struct {
	Field    string
	Operator string
}

func (e *InvalidRuleError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("invalid rule: operator %q is not allowed for field %q", e.Operator, e.Field)
	}
	return fmt.Sprintf("invalid rule: unknown field %q", e.Field)
}

// InvalidRuleValueError reports a value that fails to parse as the type the
// operator requires.
type InvalidRuleValueError struct {
	Field string
	Value string
}

func (e *InvalidRuleValueError) Error() string {
	return fmt.Sprintf("invalid rule value %q for field %q", e.Value, e.Field)
}
