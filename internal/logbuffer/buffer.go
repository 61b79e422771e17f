/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps a bounded in-memory window of recent log lines
// so the admin API can expose them without a log shipper.
package logbuffer

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// defaultCapacity is used when New is handed a non-positive capacity.
const defaultCapacity = 10000

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Raw       string                 `json:"raw,omitempty"`
}

// Buffer is a fixed-size ring of log entries. Once full, each Add
// overwrites the oldest entry.
type Buffer struct {
	mu   sync.RWMutex
	ring []LogEntry
	next int
	full bool
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{ring: make([]LogEntry, capacity)}
}

// Add appends an entry, evicting the oldest once the ring is full.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.next] = entry
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.full = true
	}
}

// snapshot copies the buffered entries oldest-first.
func (b *Buffer) snapshot() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]LogEntry, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]LogEntry, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// GetAll returns the buffered entries in chronological order.
func (b *Buffer) GetAll() []LogEntry {
	return b.snapshot()
}

// QueryParams filters buffered entries. Zero values mean "no filter".
type QueryParams struct {
	Level      string
	Component  string
	JobID      string    // matches the job_id field on ingest worker logs
	Search     string    // case-insensitive substring over message, component and fields
	Since      time.Time // drop entries from before this instant
	Limit      int       // 0 = unlimited
	Descending bool      // newest first
}

// Query returns the entries matching params, oldest first unless
// Descending is set.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	var out []LogEntry
	for _, entry := range b.snapshot() {
		if params.matches(entry) {
			out = append(out, entry)
		}
	}

	if params.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out
}

func (p QueryParams) matches(entry LogEntry) bool {
	if p.Level != "" && entry.Level != p.Level {
		return false
	}
	if p.Component != "" && entry.Component != p.Component {
		return false
	}
	if p.JobID != "" {
		id, ok := entry.Fields["job_id"].(string)
		if !ok || id != p.JobID {
			return false
		}
	}
	if !p.Since.IsZero() && entry.Timestamp.Before(p.Since) {
		return false
	}
	if p.Search != "" && !searchHit(entry, p.Search) {
		return false
	}
	return true
}

// searchHit reports whether q appears, case-insensitively, in the entry's
// message, component or any string field.
func searchHit(entry LogEntry, q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(entry.Message), q) {
		return true
	}
	if strings.Contains(strings.ToLower(entry.Component), q) {
		return true
	}
	for _, v := range entry.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// GetComponents lists the distinct component names seen in the buffer,
// sorted for stable output.
func (b *Buffer) GetComponents() []string {
	seen := map[string]struct{}{}
	for _, entry := range b.snapshot() {
		if entry.Component != "" {
			seen[entry.Component] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the buffer contents.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
}

func (b *Buffer) Stats() Stats {
	entries := b.snapshot()
	stats := Stats{
		Capacity:   len(b.ring),
		Count:      len(entries),
		LevelCount: make(map[string]int),
	}
	for _, entry := range entries {
		stats.LevelCount[entry.Level]++
	}
	return stats
}

// Clear drops all buffered entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.full = false
}

// Writer adapts the buffer into an io.Writer for zerolog. Every line is
// forwarded to out untouched; lines that parse as zerolog JSON are also
// captured into the buffer.
type Writer struct {
	buf *Buffer
	out io.Writer
}

// NewWriter creates a writer that captures into buf and forwards to out.
// A nil out discards.
func NewWriter(buf *Buffer, out io.Writer) *Writer {
	return &Writer{buf: buf, out: out}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (n int, err error) {
	if entry, ok := parseLine(p); ok {
		w.buf.Add(entry)
	}
	if w.out != nil {
		return w.out.Write(p)
	}
	return len(p), nil
}

// parseLine decodes one zerolog JSON line. The level, message, component
// and time keys map onto the entry, everything else lands in Fields.
func parseLine(p []byte) (LogEntry, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{Timestamp: time.Now(), Raw: string(p)}
	entry.Level = popString(raw, "level")
	entry.Message = popString(raw, "message")
	entry.Component = popString(raw, "component")

	// The process logger stamps unix seconds; other producers may use
	// RFC3339 strings. Unparseable times keep the capture instant.
	switch ts := raw["time"].(type) {
	case float64:
		delete(raw, "time")
		entry.Timestamp = time.Unix(int64(ts), 0)
	case string:
		delete(raw, "time")
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = parsed
		}
	}

	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, true
}

// popString removes key from m when it holds a string, returning it.
func popString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		delete(m, key)
		return s
	}
	return ""
}
