package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// Theme holds the color scheme for text reports.
type Theme struct {
	Accepted lipgloss.Color
	Rejected lipgloss.Color
	Patch    lipgloss.Color
	Hint     lipgloss.Color
}

var defaultTheme = Theme{
	Accepted: lipgloss.Color("#00D787"), // green
	Rejected: lipgloss.Color("#FF005F"), // red
	Patch:    lipgloss.Color("#5FAFD7"), // light blue
	Hint:     lipgloss.Color("#6C6C6C"), // dim gray
}

// styles renders plain text unless w is a terminal.
type styles struct {
	accepted lipgloss.Style
	rejected lipgloss.Style
	patch    lipgloss.Style
	hint     lipgloss.Style
	header   lipgloss.Style
}

func newStyles(w io.Writer, t Theme) styles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain}
	}
	return styles{
		accepted: lipgloss.NewStyle().Foreground(t.Accepted).Bold(true),
		rejected: lipgloss.NewStyle().Foreground(t.Rejected).Bold(true),
		patch:    lipgloss.NewStyle().Foreground(t.Patch),
		hint:     lipgloss.NewStyle().Foreground(t.Hint).Italic(true),
		header:   lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// render writes v as JSON or YAML. Text output is handled by the caller.
func render(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func checkFormat(format string) error {
	switch strings.ToLower(format) {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}
