package observability

import "github.com/ertembiyik/rlm-go/internal/types"

// Observer is the §6.3 event sink the driver dispatches metadata and
// iteration records to. JSONLObserver and VerboseObserver both implement
// it; they differ only in rendering, never in the events they see.
type Observer interface {
	OnMetadata(metadata types.Metadata)
	OnIteration(iteration types.Iteration)
}
