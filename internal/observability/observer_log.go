package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ertembiyik/rlm-go/internal/types"
)

// logLine is the canonical dict form emitted by JSONLObserver: one UTF-8
// JSON line per event, prefixed by iteration sequence and ISO-8601
// timestamp (§6.3).
type logLine struct {
	Type      string `json:"type"`
	Sequence  int    `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Metadata  *types.Metadata  `json:"metadata,omitempty"`
	Iteration *types.Iteration `json:"iteration,omitempty"`
}

// JSONLObserver writes one JSON line per metadata/iteration record to an
// io.Writer (§6.3): the on-disk iteration log.
type JSONLObserver struct {
	mu  sync.Mutex
	w   io.Writer
	seq int
}

// NewJSONLObserver wraps w (e.g. an os.File opened for append).
func NewJSONLObserver(w io.Writer) *JSONLObserver {
	return &JSONLObserver{w: w}
}

func (o *JSONLObserver) OnMetadata(metadata types.Metadata) {
	o.write(logLine{Type: "metadata", Metadata: &metadata})
}

func (o *JSONLObserver) OnIteration(iteration types.Iteration) {
	o.mu.Lock()
	o.seq = iteration.Sequence
	o.mu.Unlock()
	o.write(logLine{Type: "iteration", Sequence: iteration.Sequence, Iteration: &iteration})
}

func (o *JSONLObserver) write(line logLine) {
	line.Timestamp = time.Now().UTC().Format(time.RFC3339)

	o.mu.Lock()
	defer o.mu.Unlock()
	line.Sequence = o.seq

	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Fprintln(o.w, string(data))
}
