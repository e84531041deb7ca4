package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// HumanFormatter produces human-readable terminal output.
type HumanFormatter struct{}

func (h *HumanFormatter) Format(w io.Writer, result *Result) error {
	var sb strings.Builder

	if result.Success {
		sb.WriteString(fmt.Sprintf("[OK] %s %s\n", result.Command, result.Action))
	} else {
		sb.WriteString(fmt.Sprintf("[Error] %s %s\n", result.Command, result.Action))
		if result.Error != "" {
			sb.WriteString(fmt.Sprintf("   Error: %s\n", result.Error))
		}
	}

	if result.TextContent != "" {
		sb.WriteString("\n")
		sb.WriteString(result.TextContent)
		if !strings.HasSuffix(result.TextContent, "\n") {
			sb.WriteString("\n")
		}
	}

	if len(result.Data) > 0 && result.TextContent == "" {
		keys := make([]string, 0, len(result.Data))
		for k := range result.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("   %s: %v\n", k, result.Data[k]))
		}
	}

	_, err := w.Write([]byte(sb.String()))
	return err
}
