// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package candidate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// KIND
// =============================================================================

// Kind is the closed set of transformation kinds a candidate can request.
type Kind string

const (
	// KindRename renames a type, method, field, parameter or local variable.
	KindRename Kind = "rename"

	// KindExtractMethod extracts a statement range into a new private method.
	KindExtractMethod Kind = "extract_method"

	// KindChangeType changes the declared type of a field, return value,
	// parameter or local variable at the declaration site only.
	KindChangeType Kind = "change_type"

	// KindChangeAnnotation adds or removes an annotation on a declaration.
	KindChangeAnnotation Kind = "change_annotation"

	// KindMoveClass moves a top-level type into another package.
	KindMoveClass Kind = "move_class"
)

// AllKinds returns every supported kind in a stable order.
func AllKinds() []Kind {
	return []Kind{
		KindRename,
		KindExtractMethod,
		KindChangeType,
		KindChangeAnnotation,
		KindMoveClass,
	}
}

// String returns the kind identifier.
func (k Kind) String() string {
	return string(k)
}

// IsValid reports whether k is one of AllKinds.
func (k Kind) IsValid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// kindAliases maps refactoring type labels produced by the candidate
// generators (RefactoringMiner style names) onto kinds.
var kindAliases = map[string]Kind{
	"rename":                   KindRename,
	"rename method":            KindRename,
	"rename variable":          KindRename,
	"rename parameter":         KindRename,
	"rename attribute":         KindRename,
	"rename class":             KindRename,
	"extract_method":           KindExtractMethod,
	"extract method":           KindExtractMethod,
	"change_type":              KindChangeType,
	"change return type":       KindChangeType,
	"change attribute type":    KindChangeType,
	"change variable type":     KindChangeType,
	"change parameter type":    KindChangeType,
	"change_annotation":        KindChangeAnnotation,
	"add method annotation":    KindChangeAnnotation,
	"remove method annotation": KindChangeAnnotation,
	"add attribute annotation": KindChangeAnnotation,
	"add class annotation":     KindChangeAnnotation,
	"move_class":               KindMoveClass,
	"move class":               KindMoveClass,
}

// ParseKind resolves a kind identifier or a refactoring type label.
//
// Matching is case-insensitive and ignores surrounding whitespace; dashes
// are treated like underscores.
func ParseKind(s string) (Kind, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	if k, ok := kindAliases[key]; ok {
		return k, nil
	}
	if k, ok := kindAliases[strings.ReplaceAll(key, "_", " ")]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// UnmarshalJSON accepts kind identifiers and refactoring type labels.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalYAML accepts kind identifiers and refactoring type labels.
func (k *Kind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// =============================================================================
// CANDIDATE
// =============================================================================

// Location identifies where a candidate applies.
//
// Symbol is a dotted path resolved against declarations:
//
//	Type                 a top-level or nested type
//	Type.member          a method or field of Type
//	Type.method.name     a parameter or local variable of Type.method
//
// Lines are 1-based and inclusive; zero means "not given".
type Location struct {
	File      string `json:"file" yaml:"file" validate:"required"`
	Symbol    string `json:"symbol" yaml:"symbol" validate:"required"`
	StartLine int    `json:"start_line,omitempty" yaml:"start_line,omitempty" validate:"gte=0"`
	EndLine   int    `json:"end_line,omitempty" yaml:"end_line,omitempty" validate:"gte=0"`
}

// SymbolPath splits Symbol into its dotted segments.
func (l Location) SymbolPath() []string {
	parts := strings.Split(strings.TrimSpace(l.Symbol), ".")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String formats the location as file:symbol[:start-end].
func (l Location) String() string {
	if l.StartLine > 0 {
		return fmt.Sprintf("%s:%s:%d-%d", l.File, l.Symbol, l.StartLine, l.EndLine)
	}
	return l.File + ":" + l.Symbol
}

// Candidate is one proposed refactoring awaiting validation.
//
// Thread Safety: Immutable after creation; pass by value.
type Candidate struct {
	// ID identifies the candidate in reports. Sources assign one when empty.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Location is where the transformation applies.
	Location Location `json:"location" yaml:"location"`

	// Kind selects the transformation strategy.
	Kind Kind `json:"kind" yaml:"kind" validate:"required"`

	// ProposedValue is the kind-specific target: a new name, a new type,
	// an annotation ("@Name" adds, "-@Name" removes), a method name for
	// extraction, or a destination package.
	ProposedValue string `json:"proposed_value" yaml:"proposed_value" validate:"required"`

	// Confidence is advisory metadata from the generator. It never
	// participates in validation or classification.
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the candidate is well-formed.
//
// Outputs:
//
//	error - Wraps ErrInvalidCandidate with the offending fields
func (c Candidate) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidCandidate, ErrUnknownKind, c.Kind)
	}
	if c.Location.EndLine > 0 && c.Location.EndLine < c.Location.StartLine {
		return fmt.Errorf("%w: end_line %d before start_line %d",
			ErrInvalidCandidate, c.Location.EndLine, c.Location.StartLine)
	}
	if c.Kind == KindExtractMethod && (c.Location.StartLine < 1 || c.Location.EndLine < 1) {
		return fmt.Errorf("%w: extract_method requires start_line and end_line", ErrInvalidCandidate)
	}
	if len(c.Location.SymbolPath()) == 0 {
		return fmt.Errorf("%w: empty symbol", ErrInvalidCandidate)
	}
	return nil
}

// String returns a short human-readable description.
func (c Candidate) String() string {
	return fmt.Sprintf("%s %s -> %s", c.Kind, c.Location, c.ProposedValue)
}
