package report

import (
	"strings"
	"testing"
)

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Sales Report\n\nRevenue **doubled**.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "<h1") || !strings.Contains(html, "<strong>doubled</strong>") {
		t.Fatalf("html = %q", html)
	}
	// GFM tables render.
	if !strings.Contains(html, "<table>") {
		t.Fatalf("html = %q", html)
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		md   string
		want string
	}{
		{"# Sales Report\nbody", "Sales Report"},
		{"intro\n\n## Findings\n", "Findings"},
		{"no headings at all", ""},
	}
	for _, tt := range tests {
		if got := Title(tt.md); got != tt.want {
			t.Errorf("Title(%q) = %q, want %q", tt.md, got, tt.want)
		}
	}
}
