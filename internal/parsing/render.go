package parsing

import (
	"fmt"
	"strings"

	"github.com/ertembiyik/rlm-go/internal/types"
)

// RenderClampChars is the maximum length of a rendered execution result
// before truncation (§4.A, §8 property 3).
const RenderClampChars = 20000

// listableKinds are the REPLResult.Kinds values eligible for the
// identifier listing in a rendered result.
var listableKinds = map[string]bool{
	types.KindString:     true,
	types.KindNumber:     true,
	types.KindBool:       true,
	types.KindCollection: true,
}

// FormatResult renders captured stdout, captured stderr, and a one-line
// identifier listing into the single block of text the LM sees for one
// executed code block (§4.A). Text longer than RenderClampChars is cut to
// RenderClampChars characters followed by a suffix reporting the elided
// count, so the result may exceed RenderClampChars by the suffix length.
func FormatResult(result types.REPLResult) string {
	var lines []string
	if result.Stdout != "" {
		lines = append(lines, result.Stdout)
	}
	if result.Stderr != "" {
		lines = append(lines, result.Stderr)
	}
	if names := listableNames(result); len(names) > 0 {
		lines = append(lines, "Variables: "+strings.Join(names, ", "))
	}

	if len(lines) == 0 {
		return "No output"
	}
	rendered := strings.Join(lines, "\n")
	return clamp(rendered)
}

func listableNames(result types.REPLResult) []string {
	names := result.Locals.Names()
	listed := make([]string, 0, len(names))
	for _, name := range names {
		if listableKinds[result.Kinds[name]] {
			listed = append(listed, name)
		}
	}
	return listed
}

func clamp(s string) string {
	if len(s) <= RenderClampChars {
		return s
	}
	elided := len(s) - RenderClampChars
	return s[:RenderClampChars] + fmt.Sprintf("... + [%d chars...]", elided)
}

// RenderIteration produces the messages to append to the history for one
// completed iteration: the verbatim assistant response, followed by one
// user message per executed code block containing the fenced source and
// its rendered result (§4.A).
func RenderIteration(response string, blocks []types.CodeBlock) []types.Message {
	messages := make([]types.Message, 0, len(blocks)+1)
	messages = append(messages, types.Message{Role: types.RoleAssistant, Content: response})
	for _, block := range blocks {
		content := fmt.Sprintf("```repl\n%s\n```\n%s", block.Source, FormatResult(block.Result))
		messages = append(messages, types.Message{Role: types.RoleUser, Content: content})
	}
	return messages
}
