package flow

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// interpolate expands {{key}} placeholders in template against the
// context map. Unknown keys are left in place so a missing value is
// visible in the rendered output instead of silently vanishing.
func interpolate(template string, context map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := context[key]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", value)
	})
}

func interpolateAll(templates []string, context map[string]any) []string {
	if len(templates) == 0 {
		return nil
	}
	out := make([]string, len(templates))
	for i, t := range templates {
		out[i] = interpolate(t, context)
	}
	return out
}
