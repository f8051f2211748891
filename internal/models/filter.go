package models

import "strings"

// containsFold reports whether any candidate contains needle,
// case-insensitively. Shared by the entity filter predicates.
func containsFold(needle string, candidates ...string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return true
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), needle) {
			return true
		}
	}
	return false
}

// withinRange reports whether day (YYYY-MM-DD) falls inside the optional
// inclusive [from, to] bounds. Empty bounds match everything. ISO dates
// compare correctly as strings.
func withinRange(day, from, to string) bool {
	if from != "" && day < from {
		return false
	}
	if to != "" && day > to {
		return false
	}
	return true
}
