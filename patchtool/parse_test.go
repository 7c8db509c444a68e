package patchtool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		kind    LineKind
		percent float64
		level   string
		message string
	}{
		{name: "percentage wins", in: `{"type":"progress","percentage":40,"progress":0.9,"percent":70}`, kind: LineProgress, percent: 40},
		{name: "fraction", in: `{"type":"progress","progress":0.25,"percent":70}`, kind: LineProgress, percent: 25},
		{name: "percent fallback", in: `{"percent":70}`, kind: LineProgress, percent: 70},
		{name: "clamped", in: `{"percentage":140}`, kind: LineProgress, percent: 100},
		{name: "log", in: `{"type":"log","level":"debug","message":"reading signature"}`, kind: LineLog, level: "debug", message: "reading signature"},
		{name: "log default level", in: `{"type":"log","message":"hello"}`, kind: LineLog, level: "info", message: "hello"},
		{name: "error", in: `{"type":"error","message":"boom"}`, kind: LineLog, level: "error", message: "boom"},
		{name: "plain text", in: "Patching game...", kind: LineUnrecognized},
		{name: "broken json", in: `{"type":"progress",`, kind: LineUnrecognized},
		{name: "json without progress", in: `{"type":"result","value":{}}`, kind: LineUnrecognized},
		{name: "non numeric percent", in: `{"percentage":"half"}`, kind: LineUnrecognized},
		{name: "empty", in: "   ", kind: LineUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLine(tt.in)
			assert.Equal(t, tt.kind, got.Kind)
			assert.InDelta(t, tt.percent, got.Percent, 0.0001)
			assert.Equal(t, tt.level, got.Level)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestValidateToolArgs(t *testing.T) {
	ok := [][]string{
		{"apply", "--json", "--staging-dir", "/s", "--signature", "/p.sig", "/p.pwr", "/game"},
		{"verify", "--json", "/p.sig", "/game"},
	}
	for _, args := range ok {
		assert.NoError(t, validateToolArgs(args), "%v", args)
	}

	bad := [][]string{
		nil,
		{"push", "/dir", "target"},
		{"apply", "--json", "--staging-dir", "--signature", "/p.sig", "/p.pwr", "/game"},
		{"apply", "--json", "--staging-dir", "/s", "--signature", "/p.sig", "--force", "/p.pwr", "/game"},
		{"apply", "--json", "--staging-dir", "/s", "--signature", "/p.sig", "/p.pwr"},
		{"verify", "--json", "/p.sig", "/game\n"},
		{"verify", "/a", "/b", "/c"},
	}
	for _, args := range bad {
		assert.Error(t, validateToolArgs(args), "%v", args)
	}
}
