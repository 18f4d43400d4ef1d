// Package query decodes the narrow subset of percent-escapes the control page produces
// and extracts values from a request path's query string.
//
// Decode is NOT a general URL decoder: only the escapes in the table below are
// reversed, upper-case hex only, and everything else passes through verbatim.
package query

import "strings"

// escapes is applied in order; "%25" must stay last so that "%252C" yields "%2C".
var escapes = []struct {
	seq string
	ch  string
}{
	{"%20", " "},
	{"%2C", ","},
	{"%2E", "."},
	{"%2D", "-"},
	{"%5F", "_"},
	{"%3A", ":"},
	{"%3F", "?"},
	{"%3D", "="},
	{"%2F", "/"},
	{"%25", "%"},
}

// Decode reverses the supported escapes and treats '+' as a space.
func Decode(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ReplaceAll(raw, "+", " ")
	for _, e := range escapes {
		s = strings.ReplaceAll(s, e.seq, e.ch)
	}
	return s
}

// Encode returns the escape sequence for c, or false if c has no entry in the table.
func Encode(c rune) (string, bool) {
	for _, e := range escapes {
		if e.ch == string(c) {
			return e.seq, true
		}
	}
	return "", false
}

// Value returns the raw (undecoded) value of the first pair in path's query string
// whose key equals key exactly. Pairs without '=' are ignored.
func Value(path, key string) string {
	_, qs, ok := strings.Cut(path, "?")
	if !ok {
		return ""
	}
	for _, kv := range strings.Split(qs, "&") {
		k, v, ok := strings.Cut(kv, "=")
		if ok && k == key {
			return v
		}
	}
	return ""
}

// Parse collects every key/value pair of path's query string. Duplicate keys keep
// their first occurrence, matching Value.
func Parse(path string) map[string]string {
	values := make(map[string]string)
	_, qs, ok := strings.Cut(path, "?")
	if !ok {
		return values
	}
	for _, kv := range strings.Split(qs, "&") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, seen := values[k]; !seen {
			values[k] = v
		}
	}
	return values
}
