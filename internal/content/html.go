package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text extracts the visible text of an HTML fragment. Returns "" when the
// fragment cannot be parsed or carries no text, which the rewrite pipeline
// treats as an empty generation.
func Text(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Excerpt returns at most limit runes of the fragment's visible text,
// for digests and log lines.
func Excerpt(html string, limit int) string {
	text := Text(html)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
