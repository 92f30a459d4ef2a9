// Package parsing extracts executable code blocks and terminating markers
// from LM output, and formats execution results back into chat-turn form
// (§4.A).
package parsing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ertembiyik/rlm-go/internal/sandbox"
)

// fenceRegexp matches fenced ```repl ... ``` blocks, non-greedy, tolerating
// an arbitrary amount of whitespace around the fenced content. Nested
// fences are not supported (the pattern stops at the first closing fence).
var fenceRegexp = regexp.MustCompile("(?s)```repl(.*?)```")

// ExtractCodeBlocks returns the ordered list of source strings found inside
// fenced blocks tagged with the language identifier "repl". Leading and
// trailing whitespace is stripped from each block.
func ExtractCodeBlocks(text string) []string {
	matches := fenceRegexp.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, strings.TrimSpace(m[1]))
	}
	return blocks
}

// finalVarLineRegexp matches a line whose leading non-whitespace is
// "FINAL_VAR(" followed by an argument and a closing paren.
var finalVarLineRegexp = regexp.MustCompile(`^\s*FINAL_VAR\((.*)\)\s*$`)

// stripNameQuoting trims whitespace and one optional pair of matching
// quotes from a FINAL_VAR argument, per §4.A.1.
func stripNameQuoting(arg string) string {
	name := strings.TrimSpace(arg)
	if len(name) >= 2 {
		first, last := name[0], name[len(name)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			name = name[1 : len(name)-1]
		}
	}
	return strings.TrimSpace(name)
}

// findFinalVar scans text for the first FINAL_VAR(...) marker in line
// order and returns the identifier name it references.
func findFinalVar(text string) (name string, found bool) {
	for _, line := range strings.Split(text, "\n") {
		if m := finalVarLineRegexp.FindStringSubmatch(line); m != nil {
			return stripNameQuoting(m[1]), true
		}
	}
	return "", false
}

// findFinal scans text for the first line matching FINAL(...) at its start
// and end; the inner text is matched greedily so parentheses inside the
// answer are tolerated.
func findFinal(text string) (answer string, found bool) {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FINAL(") && strings.HasSuffix(trimmed, ")") {
			inner := trimmed[len("FINAL(") : len(trimmed)-1]
			return strings.TrimSpace(inner), true
		}
	}
	return "", false
}

// Termination is the outcome of DetectTermination.
type Termination struct {
	// Terminated is true when the loop should stop with Answer as the
	// final answer.
	Terminated bool
	Answer     string
}

// DetectTermination scans text for a terminating marker, in priority
// order: FINAL_VAR(name) before FINAL(answer) (§4.A). When a FINAL_VAR
// marker is found and session is non-nil, the named identifier's value is
// fetched by executing the FINAL_VAR hook inside the sandbox; its captured
// stdout is the answer, or stderr if stdout was empty. When session is nil,
// detection succeeds but Terminated is false: marker-only termination
// without a live sandbox never actually resolves the named identifier.
func DetectTermination(ctx context.Context, text string, session sandbox.Session) (Termination, error) {
	if name, found := findFinalVar(text); found {
		if session == nil {
			return Termination{}, nil
		}
		program := fmt.Sprintf("print(%s(%q))", sandbox.HookFinalVar, name)
		result, err := session.Execute(ctx, program)
		if err != nil {
			return Termination{}, fmt.Errorf("parsing: FINAL_VAR(%s) execution: %w", name, err)
		}
		answer := strings.TrimSpace(result.Stdout)
		if answer == "" {
			answer = strings.TrimSpace(result.Stderr)
		}
		return Termination{Terminated: true, Answer: answer}, nil
	}

	if answer, found := findFinal(text); found {
		return Termination{Terminated: true, Answer: answer}, nil
	}

	return Termination{}, nil
}
