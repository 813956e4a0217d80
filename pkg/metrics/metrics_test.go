package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestWritePrometheus(t *testing.T) {
	ToolTotal.WithLabelValues("get_node_info", "ok").Inc()
	PollCycleTotal.Inc()
	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, name := range []string{"copilot_tool_total", "copilot_poll_cycle_total"} {
		if !strings.Contains(out, name) {
			t.Errorf("output missing %s", name)
		}
	}
}
