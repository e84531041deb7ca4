// Package tools implements the handful of browser-interaction tool
// handlers the dispatcher exposes. Their internal semantics are opaque to
// the core (spec §1 Non-goals); each one only validates its own arguments
// and then drives a session's fused executeCDP path.
package tools

import "strings"

// parseSelector converts a tool-facing selector string into the CDP
// selector shape a DOM query needs. Semantic prefixes (text=, role=,
// label=) are distinguished from plain CSS.
func parseSelector(selector string) map[string]any {
	if idx := strings.Index(selector, "="); idx > 0 {
		prefix := selector[:idx]
		value := selector[idx+1:]
		switch prefix {
		case "text":
			return map[string]any{"text": value}
		case "role":
			return map[string]any{"role": value}
		case "label", "aria-label":
			return map[string]any{"ariaLabel": value}
		}
	}
	if strings.HasPrefix(selector, "#") && !strings.ContainsAny(selector[1:], " >.+~[]:#") {
		return map[string]any{"id": selector[1:]}
	}
	return map[string]any{"cssPath": selector}
}
