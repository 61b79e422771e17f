/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package radio

import (
	"strings"
	"unicode"
)

// stopWords are dropped before comparing titles: filler English plus the
// boilerplate YouTube uploaders decorate titles with.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "and": true, "or": true, "with": true,
	"by": true, "from": true, "is": true, "it": true, "this": true, "that": true,
	"de": true, "la": true, "el": true, "los": true, "las": true,

	"official": true, "video": true, "lyric": true, "lyrics": true,
	"audio": true, "hq": true, "hd": true, "4k": true, "mv": true,
	"feat": true, "ft": true, "featuring": true, "prod": true, "music": true,
}

// titleKeywords extracts the significant lowercase words of a title.
func titleKeywords(title string) map[string]struct{} {
	keywords := make(map[string]struct{})
	word := strings.Builder{}

	flush := func() {
		if word.Len() == 0 {
			return
		}
		token := word.String()
		word.Reset()
		if len([]rune(token)) < 3 || stopWords[token] {
			return
		}
		keywords[token] = struct{}{}
	}

	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return keywords
}

// keywordOverlap counts keywords shared between a prepared keyword set and a
// candidate title.
func keywordOverlap(seed map[string]struct{}, title string) int {
	if len(seed) == 0 {
		return 0
	}
	overlap := 0
	for keyword := range titleKeywords(title) {
		if _, ok := seed[keyword]; ok {
			overlap++
		}
	}
	return overlap
}
