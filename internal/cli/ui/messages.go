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

// Message is a problem report with optional suggestions and follow-up commands
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Suggestions []string
	Help        []string
	NoColor     bool
}

// Format renders the message
//
//	✗ SCRIPT NOT FOUND: api.logn_get
//
//	   Did you mean: api.login_get?
//
//	   → List scripts: webscript scripts list
func (m Message) Format() string {
	var (
		b      strings.Builder
		head   *color.Color
		symbol string
	)
	switch m.Level {
	case LevelWarning:
		head, symbol = color.New(color.FgYellow, color.Bold), "!"
	case LevelInfo:
		head, symbol = color.New(color.FgCyan, color.Bold), "i"
	default:
		head, symbol = color.New(color.FgRed, color.Bold), "✗"
	}
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	if m.NoColor {
		head.DisableColor()
		yellow.DisableColor()
		cyan.DisableColor()
	}

	if m.Context != "" {
		head.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		head.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}
	if len(m.Suggestions) > 0 {
		b.WriteString("\n")
		yellow.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}
	if len(m.Help) > 0 {
		b.WriteString("\n")
		for _, h := range m.Help {
			cyan.Fprintf(&b, "   → %s\n", h)
		}
	}
	return b.String()
}

// Write writes the formatted message to w
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.Format())
}

// ScriptNotFound reports an unknown web script id with close matches
func ScriptNotFound(id string, known []string, noColor bool) Message {
	return Message{
		Level:       LevelError,
		Context:     "script not found",
		Problem:     id,
		Suggestions: FindSimilar(id, known, 3),
		Help:        []string{"List scripts: webscript scripts list"},
		NoColor:     noColor,
	}
}

// Success writes a green check line
func Success(w io.Writer, message string, noColor bool) {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	green.Fprintf(w, "✓ %s\n", message)
}
