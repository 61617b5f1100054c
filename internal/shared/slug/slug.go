// Package slug builds URL-safe product keys.
package slug

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// FromName lowercases s and collapses every non-alphanumeric run to one dash.
func FromName(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	if s = strings.Trim(s, "-"); s == "" {
		return "product"
	}
	return s
}
