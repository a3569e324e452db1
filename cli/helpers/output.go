package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// Field is one labelled value of a text-mode report.
type Field struct {
	Key   string
	Value any
}

// Printer writes command results either as indented JSON or as styled text.
type Printer struct {
	w     io.Writer
	mode  OutputMode
	color bool
}

// NewPrinter creates a printer for the resolved output mode.
func NewPrinter(w io.Writer, mode OutputMode, color bool) *Printer {
	return &Printer{w: w, mode: mode, color: color}
}

func (p *Printer) Mode() OutputMode {
	return p.mode
}

// JSON writes data as indented JSON regardless of mode.
func (p *Printer) JSON(data any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Report prints data as JSON in JSON mode, or a titled field list otherwise.
func (p *Printer) Report(title string, data any, fields ...Field) error {
	if p.mode == ModeJSON {
		return p.JSON(data)
	}
	var b strings.Builder
	b.WriteString(p.style(titleStyle, title))
	b.WriteByte('\n')
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	for _, f := range fields {
		label := fmt.Sprintf("%-*s", width, f.Key)
		fmt.Fprintf(&b, "  %s  %v\n", p.style(keyStyle, label), f.Value)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Text prints a plain block in text mode and nothing in JSON mode.
func (p *Printer) Text(text string) error {
	if p.mode == ModeJSON {
		return nil
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func (p *Printer) Success(format string, args ...any) error {
	return p.line(successStyle, "✓ ", format, args...)
}

func (p *Printer) Warn(format string, args ...any) error {
	return p.line(warnStyle, "! ", format, args...)
}

func (p *Printer) Error(format string, args ...any) error {
	return p.line(errorStyle, "✗ ", format, args...)
}

func (p *Printer) line(style lipgloss.Style, prefix, format string, args ...any) error {
	if p.mode == ModeJSON {
		return nil
	}
	_, err := fmt.Fprintln(p.w, p.style(style, prefix+fmt.Sprintf(format, args...)))
	return err
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}
