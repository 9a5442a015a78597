package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/biolume-dev/biolume/internal/coordinator"
	"github.com/stretchr/testify/assert"
)

type fakeBackend struct{}

func (fakeBackend) Census() coordinator.Census {
	return coordinator.Census{Registered: 2, Started: 1, Reproductions: 5}
}

func (fakeBackend) Agents() []coordinator.AgentInfo {
	return []coordinator.AgentInfo{
		{Entry: coordinator.Entry{ID: 0, Addr: "10.0.0.1:9998", X: 0, Y: 0}, Started: time.Now()},
		{Entry: coordinator.Entry{ID: 1, Addr: "10.0.0.2:9998", X: 1, Y: 0}},
	}
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		contains []string
		stop     bool
	}{
		{name: "blank", line: "   "},
		{name: "status", line: "status", contains: []string{"agents=2", "started=1", "reproductions=5"}},
		{name: "agents", line: "agents", contains: []string{"ADDRESS", "10.0.0.1:9998", "ago", "10.0.0.2:9998"}},
		{name: "help", line: "help", contains: []string{"status", "agents", "quit"}},
		{name: "unknown", line: "dance", contains: []string{`unknown command "dance"`}},
		{name: "quit", line: "quit", contains: []string{"shutting down"}, stop: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quits := 0
			c := New(fakeBackend{}, func() { quits++ })
			var buf bytes.Buffer

			assert.Equal(t, tt.stop, c.Execute(tt.line, &buf))
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
			if tt.stop {
				assert.Equal(t, 1, quits)
			} else {
				assert.Zero(t, quits)
			}
		})
	}
}
