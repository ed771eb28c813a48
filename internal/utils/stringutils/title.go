package stringutils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`(?i)(https?://|www\.)[^\s]+`)
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]+\)`)
	multiSpacePattern   = regexp.MustCompile(`\s+`)
)

// SanitizeTitleContent removes URLs, markdown links and special characters so
// the content is usable as a display title.
func SanitizeTitleContent(content string) string {
	content = urlPattern.ReplaceAllString(content, "")
	content = markdownLinkPattern.ReplaceAllString(content, "$1")

	var result strings.Builder
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) ||
			r == '.' || r == ',' || r == '!' || r == '?' || r == '-' || r == '\'' {
			result.WriteRune(r)
		}
	}
	content = result.String()

	content = multiSpacePattern.ReplaceAllString(content, " ")
	content = strings.TrimSpace(content)
	content = strings.TrimRight(content, " .,!?-'")

	return content
}

// TitleFromPermalink recovers a display title from a forum permalink slug,
// e.g. "/r/community/comments/abc123/how_do_i_appeal/" -> "how do i appeal".
// Returns "" when the permalink carries no usable slug.
func TitleFromPermalink(permalink string) string {
	trimmed := strings.Trim(permalink, "/")
	if trimmed == "" {
		return ""
	}

	parts := strings.Split(trimmed, "/")
	slug := parts[len(parts)-1]
	// Permalinks ending in the item id keep the slug one segment earlier.
	if len(parts) >= 2 && !strings.Contains(slug, "_") && len(slug) <= 8 {
		slug = parts[len(parts)-2]
	}

	title := strings.ReplaceAll(slug, "_", " ")
	title = strings.ReplaceAll(title, "-", " ")
	return SanitizeTitleContent(title)
}

// TruncateWords cuts content to at most maxWords words, appending an ellipsis
// when anything was dropped.
func TruncateWords(content string, maxWords int) string {
	words := strings.Fields(content)
	if len(words) <= maxWords {
		return content
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
