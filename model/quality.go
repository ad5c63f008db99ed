package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Lightweight code quality checks for the code adapter's revision pass.
// This is a lint, not a compiler: it flags structural problems worth a
// re-prompt, nothing more.

const (
	maxLineLength      = 120
	complexityPerBlock = 15
)

var fencedCodeRe = regexp.MustCompile("(?s)```([a-zA-Z0-9+_-]*)\n(.*?)```")

type codeBlock struct {
	lang string
	code string
}

// extractCodeBlocks pulls fenced code blocks out of model output.
func extractCodeBlocks(text string) []codeBlock {
	var blocks []codeBlock
	for _, m := range fencedCodeRe.FindAllStringSubmatch(text, -1) {
		blocks = append(blocks, codeBlock{lang: strings.ToLower(m[1]), code: m[2]})
	}
	return blocks
}

// lintCode returns human-readable findings for one code block. An empty
// slice means the block passed.
func lintCode(b codeBlock) []string {
	var findings []string

	if f := checkBalance(b.code); f != "" {
		findings = append(findings, f)
	}

	lines := strings.Split(b.code, "\n")
	long := 0
	for _, l := range lines {
		if len(l) > maxLineLength {
			long++
		}
	}
	if long > 0 {
		findings = append(findings, fmt.Sprintf("%d lines exceed %d characters", long, maxLineLength))
	}

	if n := countBranches(b.code); n > complexityPerBlock {
		findings = append(findings, fmt.Sprintf("high branching complexity (%d branch points); consider decomposing", n))
	}

	todos := strings.Count(b.code, "TODO") + strings.Count(b.code, "FIXME")
	if todos > 0 {
		findings = append(findings, fmt.Sprintf("%d TODO/FIXME markers left in code", todos))
	}

	return findings
}

// checkBalance verifies brackets pair up, ignoring string and rune literals
// well enough for lint purposes.
func checkBalance(code string) string {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	var inStr rune
	escaped := false
	for _, r := range code {
		if inStr != 0 {
			if escaped {
				escaped = false
				continue
			}
			switch r {
			case '\\':
				escaped = true
			case inStr:
				inStr = 0
			}
			continue
		}
		switch r {
		case '"', '\'', '`':
			inStr = r
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return fmt.Sprintf("unbalanced %q", r)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Sprintf("unclosed %q", stack[len(stack)-1])
	}
	return ""
}

var branchRe = regexp.MustCompile(`\b(if|for|while|case|elif|else if|except|catch)\b`)

// countBranches is a naive cyclomatic estimate: one per branch keyword.
func countBranches(code string) int {
	return len(branchRe.FindAllString(code, -1))
}

// reviewFindings lints every code block in text and formats the combined
// findings for a revision prompt. Empty when all blocks pass.
func reviewFindings(text string) string {
	var b strings.Builder
	for i, block := range extractCodeBlocks(text) {
		findings := lintCode(block)
		if len(findings) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Code block %d", i+1)
		if block.lang != "" {
			fmt.Fprintf(&b, " (%s)", block.lang)
		}
		b.WriteString(":\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
