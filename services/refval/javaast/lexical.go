// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package javaast

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"
)

// reserved holds Java keywords and literals that cannot be identifiers.
var reserved = map[string]struct{}{
	"abstract": {}, "assert": {}, "boolean": {}, "break": {}, "byte": {},
	"case": {}, "catch": {}, "char": {}, "class": {}, "const": {},
	"continue": {}, "default": {}, "do": {}, "double": {}, "else": {},
	"enum": {}, "extends": {}, "final": {}, "finally": {}, "float": {},
	"for": {}, "goto": {}, "if": {}, "implements": {}, "import": {},
	"instanceof": {}, "int": {}, "interface": {}, "long": {}, "native": {},
	"new": {}, "package": {}, "private": {}, "protected": {}, "public": {},
	"return": {}, "short": {}, "static": {}, "strictfp": {}, "super": {},
	"switch": {}, "synchronized": {}, "this": {}, "throw": {}, "throws": {},
	"transient": {}, "try": {}, "void": {}, "volatile": {}, "while": {},
	"true": {}, "false": {}, "null": {}, "_": {},
	// Contextual keywords that break type names.
	"var": {}, "yield": {}, "record": {},
}

// IsReserved reports whether s is a Java keyword or literal.
func IsReserved(s string) bool {
	_, ok := reserved[s]
	return ok
}

// IsIdentifier reports whether s is a legal, non-reserved Java identifier.
func IsIdentifier(s string) bool {
	if s == "" || IsReserved(s) {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isIdentStart(r) {
				return false
			}
			continue
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

// IsQualifiedName reports whether s is a dotted sequence of identifiers.
func IsQualifiedName(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !IsIdentifier(part) {
			return false
		}
	}
	return true
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// ContainsWord reports whether word occurs in src delimited by
// non-identifier characters.
func ContainsWord(src []byte, word string) bool {
	if word == "" {
		return false
	}
	w := []byte(word)
	for offset := 0; ; {
		idx := bytes.Index(src[offset:], w)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(w)
		if !identBefore(src, start) && !identAfter(src, end) {
			return true
		}
		offset = start + 1
	}
}

func identBefore(src []byte, pos int) bool {
	if pos == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRune(src[:pos])
	return isIdentPart(r)
}

func identAfter(src []byte, pos int) bool {
	if pos >= len(src) {
		return false
	}
	r, _ := utf8.DecodeRune(src[pos:])
	return isIdentPart(r)
}

// BaseTypeName strips type arguments, array brackets, annotations and
// qualifiers: "java.util.List<String>[]" becomes "List".
func BaseTypeName(typeText string) string {
	t := strings.TrimSpace(typeText)
	for strings.HasPrefix(t, "@") {
		if idx := strings.IndexAny(t, " \t\n"); idx > 0 {
			t = strings.TrimSpace(t[idx:])
		} else {
			break
		}
	}
	if idx := strings.IndexAny(t, "<["); idx >= 0 {
		t = t[:idx]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "...")
	return lastSegment(strings.TrimSpace(t))
}

// NormalizeType removes insignificant whitespace from a type text.
func NormalizeType(typeText string) string {
	var b strings.Builder
	fields := strings.Fields(typeText)
	for i, f := range fields {
		if i > 0 {
			prev := fields[i-1]
			last, _ := utf8.DecodeLastRuneInString(prev)
			first, _ := utf8.DecodeRuneInString(f)
			if isIdentPart(last) && isIdentPart(first) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(f)
	}
	return b.String()
}
