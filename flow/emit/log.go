package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to a writer, one per line.
//
// Two output modes:
//   - Text (default): [type] execution=... node=... status=...
//   - JSON: one JSON object per line (JSONL)
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer defaults to stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] execution=%s", event.Type, event.ExecutionID)
	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " node=%s", event.NodeID)
	}
	if event.Status != "" {
		fmt.Fprintf(l.writer, " status=%s", event.Status)
	}
	if event.CurrentNode != "" {
		fmt.Fprintf(l.writer, " current=%s", event.CurrentNode)
	}
	if event.Error != "" {
		fmt.Fprintf(l.writer, " error=%q", event.Error)
	}
	if event.Log != nil {
		fmt.Fprintf(l.writer, " log=%q", event.Log.Message)
	}
	fmt.Fprint(l.writer, "\n")
}
