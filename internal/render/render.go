// Package render turns a mod into channel-ready markdown by substituting
// {name} placeholders in a template with computed field values.
package render

import (
	"fmt"
	"os"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Render substitutes every {name} placeholder in template with its field
// value. Unknown or empty fields render as "N/A" so a stale template never
// breaks a post.
func Render(template string, fields map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-1]
		if v, ok := fields[name]; ok && v != "" {
			return v
		}
		return "N/A"
	})
}

// Load reads a template file from disk.
func Load(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return string(raw), nil
}
