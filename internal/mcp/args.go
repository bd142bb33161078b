// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

// =============================================================================
// ARGUMENT SANITIZER
// =============================================================================

// SanitizeArg normalizes one user-supplied launch argument. A string that is
// fully wrapped in matching single or double quotes has exactly one layer of
// quoting stripped; an unwrapped string passes through unchanged; any
// non-string value sanitizes to the empty string. Settings imported from
// other clients commonly carry shell-style quoting that must not reach the
// process argv verbatim.
//
// Every launch path goes through this function; the behavior must be
// identical regardless of call site.
func SanitizeArg(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}

	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}

	return s
}

// SanitizeArgs applies SanitizeArg to each element, preserving order.
func SanitizeArgs(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = SanitizeArg(v)
	}
	return out
}
