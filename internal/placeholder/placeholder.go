// Package placeholder builds image references for the third-party placeholder
// image service that stands in for real image synthesis.
package placeholder

import (
	"strings"
	"unicode/utf8"
)

const (
	// BaseURL is the 512x512 violet placeholder endpoint used for generated images.
	BaseURL = "https://placehold.co/512x512/7c3aed/ffffff"
	// MaxLabelRunes is how many code points of the prompt end up on the image.
	MaxLabelRunes = 20
)

const upperhex = "0123456789ABCDEF"

// BuildURL returns the placeholder image reference for a prompt:
// BaseURL?text=<first 20 code points, component-encoded>.
func BuildURL(prompt string) string {
	return BaseURL + "?text=" + EncodeComponent(Truncate(prompt, MaxLabelRunes))
}

// Truncate returns at most n code points of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// EncodeComponent percent-encodes s so it is safe as a single URL query value
// or path segment. Only A-Z a-z 0-9 and - _ . ! ~ * ' ( ) are left as is;
// every other byte of the UTF-8 encoding becomes %XX with upper-case hex.
// Invalid UTF-8 is replaced with U+FFFD first.
func EncodeComponent(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
