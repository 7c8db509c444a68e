package patchtool

import (
	"encoding/json"
	"strings"
)

// LineKind tags a parsed line of tool output.
type LineKind int

const (
	LineUnrecognized LineKind = iota
	LineProgress
	LineLog
)

func (k LineKind) String() string {
	switch k {
	case LineProgress:
		return "progress"
	case LineLog:
		return "log"
	default:
		return "unrecognized"
	}
}

// Line is one line of tool output. Percent is set for LineProgress,
// Level and Message for LineLog, Text always holds the raw line.
type Line struct {
	Kind    LineKind
	Percent float64
	Level   string
	Message string
	Text    string
}

// ParseLine interprets a line of the tool's --json output. It never fails:
// anything it cannot interpret comes back as LineUnrecognized.
//
// Log lines are objects with "type" set to "log" or "error" and a "message".
// Progress is read from the first key present, in this order:
//
//	percentage  0..100
//	progress    0..1
//	percent     0..100
func ParseLine(raw string) Line {
	text := strings.TrimSpace(raw)
	line := Line{Kind: LineUnrecognized, Text: text}
	if !strings.HasPrefix(text, "{") {
		return line
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return line
	}

	switch kind := stringField(obj, "type"); kind {
	case "log", "error":
		line.Kind = LineLog
		line.Message = stringField(obj, "message")
		line.Level = stringField(obj, "level")
		if kind == "error" {
			line.Level = "error"
		}
		if line.Level == "" {
			line.Level = "info"
		}
		return line
	}

	if pct, ok := percentOf(obj); ok {
		line.Kind = LineProgress
		line.Percent = pct
	}
	return line
}

func percentOf(obj map[string]json.RawMessage) (float64, bool) {
	if v, ok := numberField(obj, "percentage"); ok {
		return clampPercent(v), true
	}
	if v, ok := numberField(obj, "progress"); ok {
		return clampPercent(v * 100), true
	}
	if v, ok := numberField(obj, "percent"); ok {
		return clampPercent(v), true
	}
	return 0, false
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func numberField(obj map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := obj[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}
