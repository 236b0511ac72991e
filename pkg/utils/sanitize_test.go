package utils

import "testing"

func TestStripTags(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain text", "plain text"},
		{"<b>bold</b> move", "bold move"},
		{"<script>alert(1)</script>Go", "Go"},
		{"a &amp; b", "a & b"},
		{`<a href="x">link</a>`, "link"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripTags(tt.in); got != tt.want {
			t.Errorf("StripTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	// "e" + combining acute accent composes to a single rune under NFC.
	got := CleanText("  <i>cafe\u0301</i>  ")
	if got != "caf\u00e9" {
		t.Fatalf("CleanText() = %q, want %q", got, "caf\u00e9")
	}
	if RuneLen(got) != 4 {
		t.Fatalf("RuneLen() = %d, want 4", RuneLen(got))
	}
}
