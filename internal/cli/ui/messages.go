package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a structured diagnostic with optional suggestions and hints.
//
// Example output:
//
//	✗ UNKNOWN BACKEND: "neo5j"
//	   Did you mean: neo4j?
//	   → List the settings: ogm config show
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Suggestions []string
	Hints       []string
	NoColor     bool
}

// Format renders the message.
func (m Message) Format() string {
	var b strings.Builder

	var head *color.Color
	symbol := "✗"
	switch m.Level {
	case LevelWarning:
		head, symbol = paint(m.NoColor, color.FgYellow, color.Bold), "!"
	case LevelInfo:
		head, symbol = paint(m.NoColor, color.FgCyan, color.Bold), "i"
	default:
		head = paint(m.NoColor, color.FgRed, color.Bold)
	}

	if m.Context != "" {
		head.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		head.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}
	if len(m.Suggestions) > 0 {
		paint(m.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}
	cyan := paint(m.NoColor, color.FgCyan)
	for _, h := range m.Hints {
		cyan.Fprintf(&b, "   → %s\n", h)
	}
	return b.String()
}

// Write writes the formatted message to w.
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.Format())
}

// Success writes a success line.
func Success(w io.Writer, message string, noColor bool) {
	paint(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// ConfigError describes an invalid configuration.
func ConfigError(problem string, suggestions []string, noColor bool) Message {
	return Message{
		Context:     "configuration error",
		Problem:     problem,
		Suggestions: suggestions,
		Hints: []string{
			"Show the effective settings: ogm config show",
			"Create a config file: ogm config init",
		},
		NoColor: noColor,
	}
}

// NotFound describes a missing node or label.
func NotFound(what string, suggestions []string, noColor bool) Message {
	return Message{
		Context:     "not found",
		Problem:     what,
		Suggestions: suggestions,
		Hints:       []string{"List labels and counts: ogm stats"},
		NoColor:     noColor,
	}
}
