package fleet

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"ascii cut", "hello", 3, "hel"},
		{"cut lands inside a rune", "héllo", 2, "h"},
		{"cut between multi-byte runes", "日本語", 6, "日本"},
		{"cut inside a multi-byte rune", "日本語", 4, "日"},
		{"limit zero", "héllo", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
			}
		})
	}

	// A summary cut at its cap must stay valid even when the boundary falls
	// mid-rune.
	long := strings.Repeat("é", summaryLimit)
	if got := truncate(long, summaryLimit); !utf8.ValidString(got) {
		t.Errorf("capped summary is not valid UTF-8")
	}
}
