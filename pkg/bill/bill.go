// Package bill defines the structured result a finished task produces and
// the category set bills are classified into.
package bill

import "strings"

// Bill is the structured reading of one receipt or bill image.
type Bill struct {
	Notes    string  `json:"notes"`
	Amount   float32 `json:"amount"`
	Category *string `json:"category"`
}

// Categories is the set of category names a bill may be classified into.
// It is built once at startup and passed to whatever component needs it.
type Categories struct {
	names []string
}

// NewCategories builds a category set from the given names. Blank names
// are dropped; order is preserved.
func NewCategories(names ...string) Categories {
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return Categories{names: kept}
}

// DefaultCategories returns the built-in category set.
func DefaultCategories() Categories {
	return NewCategories(
		"Transportation",
		"Food & Dining",
		"Housing & Utilities",
		"Entertainment",
		"Shopping",
		"Healthcare",
		"Education",
		"Travel",
		"Business",
		"Other",
	)
}

// Names returns a copy of the category names in declaration order.
func (c Categories) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len reports the number of categories.
func (c Categories) Len() int { return len(c.names) }

// Match resolves name against the set, ignoring case and surrounding
// whitespace, and returns the canonical name.
func (c Categories) Match(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, candidate := range c.names {
		if strings.EqualFold(candidate, name) {
			return candidate, true
		}
	}
	return "", false
}
