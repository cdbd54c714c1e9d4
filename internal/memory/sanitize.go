package memory

import (
	"html"
	"strings"
)

// injectionPatterns are lowercased substrings that flag a stored memory as
// a likely prompt-injection attempt rather than genuine recalled content.
// Matching entries are dropped from the rendered block entirely rather than
// escaped, since an injection attempt has no legitimate content worth
// preserving.
var injectionPatterns = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard previous instructions",
	"disregard all prior instructions",
	"you are now",
	"new instructions:",
	"system prompt:",
	"</relevant-memories>",
}

// sanitizeEntry returns content safe to embed inside a <relevant-memories>
// block, or ("", false) if it should be dropped outright for matching an
// injection pattern.
func sanitizeEntry(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			return "", false
		}
	}
	return html.EscapeString(content), true
}

// FormatRelevantMemories renders entries into the <relevant-memories>
// envelope the Context Builder embeds in system_context. Entries that fail
// sanitization are silently omitted; an empty result after filtering yields
// an empty string rather than an empty envelope, so the Context Builder's
// format_prompt can skip an empty section entirely.
func FormatRelevantMemories(entries []string) string {
	var lines []string
	for _, e := range entries {
		if clean, ok := sanitizeEntry(e); ok && clean != "" {
			lines = append(lines, clean)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<relevant-memories>\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("</relevant-memories>")
	return b.String()
}
