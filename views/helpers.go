package views

import (
	"net/url"
	"strings"
)

// RecordURL is the preview path of a record.
func RecordURL(id string) string {
	return "/records/" + url.PathEscape(id) + "/"
}

// CountImages counts responsive blocks in rewritten content.
func CountImages(content string) int {
	return strings.Count(content, `class="`+WrapperClass+`"`)
}
