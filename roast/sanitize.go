// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package roast

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Tokens a chat formatted model may echo back.
	wrapperTokens = strings.NewReplacer(
		"<s>", "", "</s>", "",
		"[INST]", "", "[/INST]", "",
		"<<SYS>>", "", "<</SYS>>", "",
	)
	quoted = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
	// Lines containing any of these are leaked prompt metadata.
	metadataWords = []string{"example", "format", "seed", "time", "[inst", "inst]", "<<sys", "sys>>"}
)

// Sanitize extracts the joke from a raw completion. ok is false when nothing
// usable remains and the caller must fall back to a static joke.
func Sanitize(raw string) (text string, ok bool) {
	s := strings.TrimSpace(wrapperTokens.Replace(raw))
	if m := quoted.FindStringSubmatch(s); m != nil {
		s = m[1] + m[2]
	} else {
		s = firstContentLine(s)
	}
	s = finish(strings.Join(strings.Fields(s), " "))
	return s, utf8.RuneCountInString(s) > 3
}

func firstContentLine(s string) string {
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if line == "" || isMetadata(line) {
			continue
		}
		return line
	}
	return ""
}

func isMetadata(line string) bool {
	l := strings.ToLower(line)
	for _, w := range metadataWords {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}

// finish trims s, including a dangling closing quote, and makes sure it ends
// with terminal punctuation.
func finish(s string) string {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), `"'”`))
	if s == "" {
		return ""
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
