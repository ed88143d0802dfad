package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
)

// OutputFormatter prints command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func NewOutputFormatter(format string, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: format, Writer: w}
}

// Print writes fields sorted by key.
func (f *OutputFormatter) Print(fields map[string]any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(fields)
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if _, err := fmt.Fprintf(f.Writer, "%-18s %v\n", k+":", fields[k]); err != nil {
			return err
		}
	}
	return nil
}
