// Package output renders CLI results as colored status lines, key/value
// blocks, tables or JSON.
package output

import (
	"fmt"
	"io"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorCyan   = "\033[0;36m"
	colorBold   = "\033[1m"
)

// Styler prefixes status lines with a symbol, colored unless noColor is set.
type Styler struct {
	noColor bool
}

func NewStyler(noColor bool) *Styler {
	return &Styler{noColor: noColor}
}

func (s *Styler) Success(msg string) string { return s.format(colorGreen, "✓", msg) }
func (s *Styler) Error(msg string) string   { return s.format(colorRed, "✗", msg) }
func (s *Styler) Info(msg string) string    { return s.format(colorCyan, "ℹ", msg) }
func (s *Styler) Warn(msg string) string    { return s.format(colorYellow, "⚠", msg) }

// Label renders a key/value label in bold.
func (s *Styler) Label(label string) string {
	if s.noColor {
		return label
	}
	return colorBold + label + colorReset
}

func (s *Styler) format(color, symbol, msg string) string {
	if s.noColor {
		return symbol + " " + msg
	}
	return color + symbol + colorReset + " " + msg
}

func (s *Styler) FprintSuccess(w io.Writer, msg string) { fmt.Fprintln(w, s.Success(msg)) }
func (s *Styler) FprintError(w io.Writer, msg string)   { fmt.Fprintln(w, s.Error(msg)) }
func (s *Styler) FprintInfo(w io.Writer, msg string)    { fmt.Fprintln(w, s.Info(msg)) }
func (s *Styler) FprintWarn(w io.Writer, msg string)    { fmt.Fprintln(w, s.Warn(msg)) }

// Fields writes aligned "Label: value" lines, skipping empty values.
func (s *Styler) Fields(w io.Writer, pairs ...[2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		pad := width - len(p[0])
		fmt.Fprintf(w, "%s:%*s %s\n", s.Label(p[0]), pad+1, "", p[1])
	}
}
