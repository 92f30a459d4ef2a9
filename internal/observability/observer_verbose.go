package observability

import (
	"fmt"
	"io"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/ertembiyik/rlm-go/internal/types"
)

// VerboseObserver is the ambient "verbose observer" (§6.3): a cosmetic
// terminal pretty-printer for metadata and iteration events. It carries no
// semantics of its own — the same events reach JSONLObserver unchanged.
type VerboseObserver struct {
	w io.Writer

	header  lipgloss.Style
	label   lipgloss.Style
	code    lipgloss.Style
	result  lipgloss.Style
	final   lipgloss.Style
}

// NewVerboseObserver wraps w (typically os.Stderr, so it doesn't interleave
// with a program's own stdout).
func NewVerboseObserver(w io.Writer) *VerboseObserver {
	return &VerboseObserver{
		w:      w,
		header: lipgloss.NewStyle().Foreground(lipgloss.Color("#00E6B8")).Bold(true),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")),
		code:   lipgloss.NewStyle().Foreground(lipgloss.Color("#AD8CFF")),
		result: lipgloss.NewStyle().Foreground(lipgloss.Color("#777777")),
		final:  lipgloss.NewStyle().Foreground(lipgloss.Color("#3DDC97")).Bold(true),
	}
}

func (o *VerboseObserver) OnMetadata(metadata types.Metadata) {
	fmt.Fprintln(o.w, o.header.Render(fmt.Sprintf("rlm: root=%s max_depth=%d max_iterations=%d backend=%s",
		metadata.RootModel, metadata.MaxDepth, metadata.MaxIterations, metadata.SandboxBackend)))
}

func (o *VerboseObserver) OnIteration(iteration types.Iteration) {
	fmt.Fprintln(o.w, o.label.Render(fmt.Sprintf("-- iteration %d --", iteration.Sequence)))
	fmt.Fprintln(o.w, strings.TrimSpace(iteration.Response))

	for _, block := range iteration.CodeBlocks {
		fmt.Fprintln(o.w, o.code.Render("```repl"))
		fmt.Fprintln(o.w, o.code.Render(block.Source))
		fmt.Fprintln(o.w, o.code.Render("```"))
		fmt.Fprintln(o.w, o.result.Render(fmt.Sprintf("stdout: %s", strings.TrimSpace(block.Result.Stdout))))
		if block.Result.Stderr != "" {
			fmt.Fprintln(o.w, o.result.Render(fmt.Sprintf("stderr: %s", strings.TrimSpace(block.Result.Stderr))))
		}
	}

	if iteration.FinalAnswer != "" {
		fmt.Fprintln(o.w, o.final.Render("FINAL: "+iteration.FinalAnswer))
	}
}
