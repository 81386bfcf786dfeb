package tts

import (
	"regexp"
	"strings"
)

// spokenGlyphs maps the emoji glyphs assistant replies actually use to
// spoken-word equivalents. Anything else is left for the voice to skip.
var spokenGlyphs = []struct{ glyph, spoken string }{
	{"🔍", "Analysis:"},
	{"⚠️", "Warning:"},
	{"⚠", "Warning:"},
	{"✅", "Confirmed:"},
	{"❌", "Not found:"},
	{"📋", "Summary:"},
	{"💡", "Tip:"},
}

var (
	reCodeFence  = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n?(.*?)```")
	reInlineCode = regexp.MustCompile("`([^`\n]*)`")
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reHeading    = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]*`)
	reRule       = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	reListMarker = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•]|\d+[.)])[ \t]+`)
	reBold       = regexp.MustCompile(`\*{1,3}([^*\n]+)\*{1,3}`)
	reUnderline  = regexp.MustCompile(`_{1,3}([^_\n]+)_{1,3}`)
	reBlankRun   = regexp.MustCompile(`\n[ \t]*\n+`)
	reSpaceRun   = regexp.MustCompile(`[ \t]+`)
)

// Normalize strips markdown markup from assistant text so it can be read
// aloud. Raw markup reaching the synthesizer is a defect, not a style choice:
// a voice reading "asterisk asterisk" is worse than no voice at all.
func Normalize(text string) string {
	out := text

	for _, g := range spokenGlyphs {
		out = strings.ReplaceAll(out, g.glyph, " "+g.spoken+" ")
	}

	out = reCodeFence.ReplaceAllString(out, "$1")
	out = reInlineCode.ReplaceAllString(out, "$1")
	out = reImage.ReplaceAllString(out, "$1")
	out = reLink.ReplaceAllString(out, "$1")
	out = reRule.ReplaceAllString(out, "")
	out = reHeading.ReplaceAllString(out, "")
	out = reListMarker.ReplaceAllString(out, "")
	out = reBold.ReplaceAllString(out, "$1")
	out = reUnderline.ReplaceAllString(out, "$1")

	// Blank lines become sentence breaks so paragraph structure survives as
	// pauses instead of silence-swallowed newlines.
	paragraphs := reBlankRun.Split(out, -1)
	joined := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\n", " "))
		p = strings.TrimSpace(reSpaceRun.ReplaceAllString(p, " "))
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p[len(p)-1:], ".!?:;,") {
			p += "."
		}
		joined = append(joined, p)
	}
	return strings.Join(joined, " ")
}
