package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter produces machine-parseable JSON output.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(w io.Writer, result *Result) error {
	out := map[string]any{
		"success": result.Success,
		"command": result.Command,
		"action":  result.Action,
	}
	if result.Error != "" {
		out["error"] = result.Error
	}
	for k, v := range result.Data {
		out[k] = v
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
