package tui

import (
	"strings"
	"testing"
)

const kernelSnippet = `kernel void vectorAdd(constant int& length [[buffer(0)]],
                      device float* out [[buffer(3)]],
                      uint gid [[thread_position_in_grid]]) {
    if ((int)gid >= length) return;
}`

func TestHighlightSource(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		language string
		contains []string
	}{
		{
			name:     "kernel source",
			code:     kernelSnippet,
			language: KernelLanguage,
			contains: []string{"kernel", "vectorAdd", "gid", "length"},
		},
		{
			name:     "Go code",
			code:     "package main\n\nfunc main() {\n}\n",
			language: "go",
			contains: []string{"package", "main", "func"},
		},
		{
			name:     "unknown language",
			code:     "some code",
			language: "no-such-language",
			contains: []string{"some code"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripANSI(HighlightSource(tt.code, tt.language))
			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("Expected output to contain %q", expected)
				}
			}
		})
	}
}

func TestHighlightPreservesText(t *testing.T) {
	got := strings.TrimRight(StripANSI(HighlightSource(kernelSnippet, KernelLanguage)), "\n")
	if got != kernelSnippet {
		t.Errorf("highlighting changed the source text:\n%s", got)
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"ANSI color codes", "\x1b[31mRed text\x1b[0m", "Red text"},
		{"multiple codes", "\x1b[1m\x1b[32mBold green\x1b[0m", "Bold green"},
		{"no codes", "Plain text", "Plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.input); got != tt.expected {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNumberLines(t *testing.T) {
	code := strings.Repeat("x\n", 12)
	lines := strings.Split(strings.TrimSuffix(StripANSI(NumberLines(code)), "\n"), "\n")
	if len(lines) != 12 {
		t.Fatalf("got %d lines, want 12", len(lines))
	}
	if lines[0] != " 1 │ x" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[11] != "12 │ x" {
		t.Errorf("last line = %q", lines[11])
	}
}

func TestKeyValuesAndTable(t *testing.T) {
	kv := StripANSI(KeyValues([]Field{{"Device", "Apple M2"}, {"Type", "GPU"}}))
	if !strings.Contains(kv, "Device:") || !strings.Contains(kv, "Apple M2") {
		t.Errorf("unexpected key/values:\n%s", kv)
	}

	table := StripANSI(Table([]string{"policy", "GB/s"}, [][]string{{"private", "91.20"}, {"shared", "N/A"}}))
	lines := strings.Split(table, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), table)
	}
	if !strings.HasPrefix(lines[1], "private") || !strings.Contains(lines[2], "N/A") {
		t.Errorf("unexpected table:\n%s", table)
	}
}
