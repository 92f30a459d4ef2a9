package driver

import (
	"fmt"
	"strings"

	"github.com/ertembiyik/rlm-go/internal/types"
)

const defaultSystemPrompt = `You are a Recursive Language Model. You answer questions over a context too large to read in one pass by writing Python in fenced ` + "```repl" + ` blocks. The REPL persists variables across turns.

Hooks available inside the REPL:
  llm_query(prompt, model=None) -> str
  llm_query_batched(prompts, model=None) -> list[str]
  FINAL_VAR(name) -> str, a variable's value as text
  SHOW_VARS() -> dict of currently defined variable names to their types

To finish, either write FINAL(your answer) on its own line, or assign the
answer to a variable and write FINAL_VAR(variable_name) on its own line.`

func metadataMessage(meta types.QueryMetadata) types.Message {
	lengths, elided := meta.TruncatedChunkLengths()
	var b strings.Builder
	fmt.Fprintf(&b, "Context loaded as `context` (%s, %d total chars).\nPer-chunk lengths: %v", meta.ContextType, meta.TotalLength, lengths)
	if elided > 0 {
		fmt.Fprintf(&b, " … %d others", elided)
	}
	return types.Message{Role: types.RoleAssistant, Content: b.String()}
}

// nextStepPrompt builds the §4.F.5.a user-role turn prompt.
func nextStepPrompt(iteration int, question string, contextCount, historyCount int) string {
	var b strings.Builder
	if iteration == 0 {
		b.WriteString("You have not yet inspected the REPL state. ")
	}
	if question != "" {
		fmt.Fprintf(&b, "Answer the following question: %s\n", question)
	}
	b.WriteString("What is your next step? Write a ```repl block to continue investigating, or terminate with FINAL(...) / FINAL_VAR(name).")
	if contextCount > 1 {
		names := make([]string, contextCount)
		for i := range names {
			names[i] = fmt.Sprintf("context_%d", i)
		}
		fmt.Fprintf(&b, "\nAvailable contexts: %s.", strings.Join(names, ", "))
	}
	if historyCount > 1 {
		names := make([]string, historyCount)
		for i := range names {
			names[i] = fmt.Sprintf("history_%d", i)
		}
		fmt.Fprintf(&b, "\nAvailable histories: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

const epiloguePrompt = "The iteration budget is exhausted. Using only what is already in the conversation above, provide your best final answer now as plain text."
