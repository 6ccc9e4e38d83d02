package update

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanText resolves HTML entities and collapses runs of whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// StripMarkup returns the visible text of an HTML fragment, cleaned.
// Input that fails to parse is returned cleaned but otherwise untouched.
func StripMarkup(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return CleanText(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return CleanText(fragment)
	}
	doc.Find("script, style").Remove()
	return CleanText(doc.Text())
}
