/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is an ordered list column serialized as JSON. Used for the
// radio session's bounded history and channel preference lists.
type StringList []string

// Value implements driver.Valuer for database serialization.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database deserialization.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = StringList{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal StringList: expected []byte or string, got %T", value)
	}
	if len(bytes) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// PushBounded appends value and evicts from the front until len <= max.
// Newest entries live at the end of the list.
func (l StringList) PushBounded(value string, max int) StringList {
	out := append(l, value)
	if max > 0 && len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// Tail returns the most recent n entries (the last n elements).
func (l StringList) Tail(n int) []string {
	if n <= 0 || len(l) == 0 {
		return nil
	}
	if n >= len(l) {
		n = len(l)
	}
	return l[len(l)-n:]
}

// Contains reports whether value is present.
func (l StringList) Contains(value string) bool {
	for _, v := range l {
		if v == value {
			return true
		}
	}
	return false
}

// Remove returns the list with every occurrence of value removed.
func (l StringList) Remove(value string) StringList {
	if !l.Contains(value) {
		return l
	}
	out := make(StringList, 0, len(l))
	for _, v := range l {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
