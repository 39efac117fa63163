package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// FormatJSON converts data to pretty-printed JSON with 2-space indentation.
func FormatJSON(data any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Render writes v as JSON when format is "json" and calls table otherwise.
func Render(w io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case "json":
		s, err := FormatJSON(v)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprintln(w, s)
		return nil
	case "", "table":
		table(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want json or table)", format)
	}
}

// Table writes tab-aligned rows under an upper-cased header.
func Table(w io.Writer, header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(header, "\t")))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	tw.Flush()
}
