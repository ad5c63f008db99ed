package model

import (
	"strings"
	"testing"
)

func TestExtractCodeBlocks(t *testing.T) {
	text := "Intro.\n```go\npackage main\n```\nMiddle.\n```\nplain\n```\n"
	blocks := extractCodeBlocks(text)
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	if blocks[0].lang != "go" || !strings.Contains(blocks[0].code, "package main") {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].lang != "" || !strings.Contains(blocks[1].code, "plain") {
		t.Errorf("block 1 = %+v", blocks[1])
	}
}

func TestCheckBalance(t *testing.T) {
	tests := []struct {
		name string
		code string
		ok   bool
	}{
		{"balanced", `func f() { g([]int{1, 2}) }`, true},
		{"unclosed brace", `func f() {`, false},
		{"stray paren", `f())`, false},
		{"mismatched", `f(]`, false},
		{"brackets in string", `s := "(["`, true},
		{"brackets in rune", `r := '{'`, true},
		{"escaped quote", `s := "a\"(b"`, true},
		{"backtick literal", "s := `{{`", true},
	}
	for _, tt := range tests {
		got := checkBalance(tt.code)
		if tt.ok && got != "" {
			t.Errorf("%s: unexpected finding %q", tt.name, got)
		}
		if !tt.ok && got == "" {
			t.Errorf("%s: expected a finding", tt.name)
		}
	}
}

func TestLintCodeFindings(t *testing.T) {
	long := strings.Repeat("x", maxLineLength+1)
	b := codeBlock{lang: "go", code: long + "\n// TODO: fix this\n"}
	findings := lintCode(b)
	var sawLong, sawTodo bool
	for _, f := range findings {
		if strings.Contains(f, "exceed") {
			sawLong = true
		}
		if strings.Contains(f, "TODO") {
			sawTodo = true
		}
	}
	if !sawLong || !sawTodo {
		t.Errorf("findings = %v, want long-line and TODO findings", findings)
	}
}

func TestLintCodeComplexity(t *testing.T) {
	var b strings.Builder
	for i := 0; i < complexityPerBlock+1; i++ {
		b.WriteString("if x {\n}\n")
	}
	findings := lintCode(codeBlock{code: b.String()})
	found := false
	for _, f := range findings {
		if strings.Contains(f, "complexity") {
			found = true
		}
	}
	if !found {
		t.Errorf("findings = %v, want a complexity finding", findings)
	}
}

func TestReviewFindingsCleanCode(t *testing.T) {
	text := "Here you go:\n```go\nfunc add(a, b int) int { return a + b }\n```\n"
	if got := reviewFindings(text); got != "" {
		t.Errorf("clean code produced findings: %q", got)
	}
}

func TestReviewFindingsNumbersBlocks(t *testing.T) {
	text := "```go\nfunc f() {\n```\nand\n```python\ndef g(:\n```\n"
	got := reviewFindings(text)
	if !strings.Contains(got, "Code block 1") || !strings.Contains(got, "Code block 2 (python)") {
		t.Errorf("findings = %q", got)
	}
}
