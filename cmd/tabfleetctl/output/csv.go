package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
)

// CSVFormatter produces CSV output, useful for piping workflow/status
// polling output or session listings into a spreadsheet.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(w io.Writer, result *Result) error {
	return f.FormatMultiple(w, []*Result{result})
}

// FormatMultiple writes several results as one CSV document: a header row
// followed by one row per result.
func (f *CSVFormatter) FormatMultiple(w io.Writer, results []*Result) error {
	if len(results) == 0 {
		return nil
	}

	keySet := make(map[string]bool)
	for _, r := range results {
		for k := range r.Data {
			keySet[k] = true
		}
	}
	dataKeys := make([]string, 0, len(keySet))
	for k := range keySet {
		dataKeys = append(dataKeys, k)
	}
	sort.Strings(dataKeys)

	header := append([]string{"success", "command", "action", "error"}, dataKeys...)

	var sb strings.Builder
	cw := csv.NewWriter(&sb)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}

	for _, r := range results {
		row := []string{fmt.Sprintf("%t", r.Success), r.Command, r.Action, r.Error}
		for _, k := range dataKeys {
			val := ""
			if v, ok := r.Data[k]; ok {
				val = fmt.Sprintf("%v", v)
			}
			row = append(row, val)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
