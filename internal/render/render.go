// Package render substitutes {{var}} placeholders in message templates.
package render

import (
	"regexp"
	"strings"
	"time"
)

// Any non-brace content counts as a placeholder name; a malformed or unknown
// name still resolves (to empty) rather than leaking braces into the message.
var placeholder = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Render fills tmpl in two passes: built-in send-time variables are computed
// first, then recipient variables are overlaid on top (recipient wins on
// collision). Unresolved placeholders become the empty string, never a
// literal {{name}} and never an error. Built-ins are computed at send time,
// not submission time, so a campaign scheduled for next week greets with the
// right date.
func Render(tmpl string, vars map[string]string, now time.Time) string {
	merged := builtins(now)
	for k, v := range vars {
		merged[k] = v
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.TrimSpace(placeholder.FindStringSubmatch(m)[1])
		return merged[name]
	})
}

func builtins(now time.Time) map[string]string {
	return map[string]string{
		"date":     now.Format("2006-01-02"),
		"time":     now.Format("15:04"),
		"greeting": greeting(now),
	}
}

func greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Good morning"
	case h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
