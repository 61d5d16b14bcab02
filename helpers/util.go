package helpers

import (
	"regexp"
	"strings"
)

var nonSlugChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// Slugify turns an identifier into a string safe for file names and URL paths
func Slugify(s string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(s, "_"), "_")
	if slug == "" {
		return "_"
	}
	return slug
}
