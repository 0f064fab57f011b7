package domain

import (
	"encoding/json"
	"strings"
)

// Tags is an ordered set of labels. Insertion order is kept for display and
// duplicates are dropped, comparing trimmed values case-insensitively.
type Tags []string

// NewTags builds a set from raw labels, skipping blanks and duplicates.
func NewTags(labels ...string) Tags {
	var t Tags
	for _, l := range labels {
		t = t.Add(l)
	}
	return t
}

// Add returns the set with label appended unless it is blank or present.
func (t Tags) Add(label string) Tags {
	label = strings.TrimSpace(label)
	if label == "" || t.Has(label) {
		return t
	}
	return append(t, label)
}

// Remove returns the set without label.
func (t Tags) Remove(label string) Tags {
	out := make(Tags, 0, len(t))
	for _, l := range t {
		if !strings.EqualFold(l, strings.TrimSpace(label)) {
			out = append(out, l)
		}
	}
	return out
}

func (t Tags) Has(label string) bool {
	label = strings.TrimSpace(label)
	for _, l := range t {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	copy(out, t)
	return out
}

// EncodeTags serializes tags for a single text column.
func EncodeTags(t Tags) string {
	if len(t) == 0 {
		return "[]"
	}
	b, _ := json.Marshal([]string(t))
	return string(b)
}

// DecodeTags is the inverse of EncodeTags; empty input yields no tags.
func DecodeTags(s string) (Tags, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return NewTags(raw...), nil
}
