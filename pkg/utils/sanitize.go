package utils

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// StripTags returns the text content of s with all markup removed.
// Script and style bodies are dropped along with their tags.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if isRawTextTag(z) {
				skip++
			}
		case html.EndTagToken:
			if isRawTextTag(z) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawTextTag(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style":
		return true
	}
	return false
}

// CleanText strips markup, trims surrounding whitespace and normalizes to NFC.
func CleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(StripTags(s)))
}

// RuneLen is the length of s in characters.
func RuneLen(s string) int {
	return len([]rune(s))
}
