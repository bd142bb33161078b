// Copyright (c) 2025 open-claude contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package mcp

import (
	"reflect"
	"testing"
)

func TestSanitizeArg(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"unquoted passes through", "--verbose", "--verbose"},
		{"double quoted stripped", `"--flag"`, "--flag"},
		{"single quoted stripped", "'/tmp/data dir'", "/tmp/data dir"},
		{"nested quoting strips one layer", `'"--flag"'`, `"--flag"`},
		{"mismatched quotes untouched", `"--flag'`, `"--flag'`},
		{"leading quote only untouched", `"--flag`, `"--flag`},
		{"interior quotes untouched", `--name="x"`, `--name="x"`},
		{"empty string", "", ""},
		{"single quote char", `"`, `"`},
		{"bare quote pair", `""`, ""},
		{"non-string int", 42, ""},
		{"non-string nil", nil, ""},
		{"non-string slice", []string{"a"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeArg(tt.input); got != tt.want {
				t.Errorf("SanitizeArg(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeArgs(t *testing.T) {
	got := SanitizeArgs([]string{`"--root"`, "/srv/files", "'-v'"})
	want := []string{"--root", "/srv/files", "-v"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SanitizeArgs = %v, want %v", got, want)
	}

	if SanitizeArgs(nil) != nil {
		t.Error("SanitizeArgs(nil) should be nil")
	}
}
