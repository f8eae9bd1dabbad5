// Package wpurl strips WordPress size suffixes (-300x200, _1024x768) from
// media URLs so every resized variant maps back to the one canonical upload.
package wpurl

import (
	"regexp"
	"strconv"
	"strings"
)

var reSize = regexp.MustCompile(`[-_]([0-9]+)x([0-9]+)`)

// Path is the result of normalizing a media URL.
type Path struct {
	CleanURL    string
	OriginalURL string
	Width       int
	Height      int
	HasSize     bool
}

// Parse removes size suffixes from the path component of raw. Width and
// Height come from the first suffix found; every suffix is removed so the
// result is stable under repeated parsing. The scheme, host, query and
// fragment are left untouched.
func Parse(raw string) Path {
	p := Path{CleanURL: raw, OriginalURL: raw}
	if raw == "" {
		return p
	}

	head, path, tail := split(raw)
	m := reSize.FindStringSubmatch(path)
	if m == nil {
		return p
	}

	// Digits that overflow int still get stripped, they just carry no size.
	w, werr := strconv.Atoi(m[1])
	h, herr := strconv.Atoi(m[2])
	if werr == nil && herr == nil {
		p.Width, p.Height = w, h
		p.HasSize = true
	}
	// Removing two suffixes can join their halves into a new one.
	for reSize.MatchString(path) {
		path = reSize.ReplaceAllString(path, "")
	}
	p.CleanURL = head + path + tail
	return p
}

// Strip returns only the clean URL.
func Strip(raw string) string {
	return Parse(raw).CleanURL
}

// split cuts raw into scheme+authority, path and query+fragment.
func split(raw string) (head, path, tail string) {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		authEnd := strings.IndexAny(rest[i+3:], "/?#")
		if authEnd < 0 {
			return raw, "", ""
		}
		head = rest[:i+3+authEnd]
		rest = rest[i+3+authEnd:]
	} else if strings.HasPrefix(rest, "//") {
		authEnd := strings.IndexAny(rest[2:], "/?#")
		if authEnd < 0 {
			return raw, "", ""
		}
		head = rest[:2+authEnd]
		rest = rest[2+authEnd:]
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		return head, rest[:i], rest[i:]
	}
	return head, rest, ""
}
