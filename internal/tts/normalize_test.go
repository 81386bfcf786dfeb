package tts

import (
	"strings"
	"testing"
)

func TestNormalize_StripsMarkup(t *testing.T) {
	got := Normalize("**Fracture** detected in `radius`. See [report](https://example.com/r/1).")
	want := "Fracture detected in radius. See report."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if strings.ContainsAny(got, "*`[]()") {
		t.Fatalf("markup survived normalization: %q", got)
	}
}

func TestNormalize_HeadingsListsAndRules(t *testing.T) {
	in := "# Findings\n\n- first item\n- second item\n\n---\n\n1. numbered\n2) also numbered"
	got := Normalize(in)
	for _, frag := range []string{"Findings.", "first item", "second item", "numbered"} {
		if !strings.Contains(got, frag) {
			t.Fatalf("missing %q in %q", frag, got)
		}
	}
	if strings.ContainsAny(got, "#-") {
		t.Fatalf("structural markup survived: %q", got)
	}
}

func TestNormalize_BlankLinesBecomeSentenceBreaks(t *testing.T) {
	got := Normalize("First paragraph\n\n\nSecond paragraph")
	want := "First paragraph. Second paragraph."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalize_CodeFence(t *testing.T) {
	got := Normalize("Use this:\n\n```go\nfmt.Println(1)\n```")
	if strings.Contains(got, "`") {
		t.Fatalf("backticks survived: %q", got)
	}
	if !strings.Contains(got, "fmt.Println(1)") {
		t.Fatalf("fence contents dropped: %q", got)
	}
}

func TestNormalize_EmojiGlyphs(t *testing.T) {
	got := Normalize("🔍 Left wrist\n\n⚠️ possible fracture")
	if !strings.Contains(got, "Analysis: Left wrist") {
		t.Fatalf("magnifier glyph not spoken: %q", got)
	}
	if !strings.Contains(got, "Warning: possible fracture") {
		t.Fatalf("warning glyph not spoken: %q", got)
	}
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	got := Normalize("too   many\tspaces here")
	if strings.Contains(got, "  ") {
		t.Fatalf("whitespace run survived: %q", got)
	}
}

func TestNormalize_Empty(t *testing.T) {
	if got := Normalize("  \n\n \t "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
