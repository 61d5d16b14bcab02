package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// CleanerFunc turns the raw text of a price node into an amount
type CleanerFunc func(string) (decimal.Decimal, error)

// PriceSelector locates a node holding the price. When Attr is set the value is
// read from that attribute, otherwise from the node text.
type PriceSelector struct {
	CSS  string
	Attr string
}

// Rule is the extraction recipe for one site
type Rule struct {
	// Site is the identifier products refer to
	Site string
	// Hosts are host fragments used to detect the site from a product URL
	Hosts []string
	// Price selectors are tried in order, the first parseable node wins
	Price []PriceSelector
	// Unavailable markers flag an out-of-stock product page
	Unavailable []Marker
	// Blocked selectors mark a captcha or bot challenge page
	Blocked []string
	// FallbackRegex is matched against the page text when no selector produced a
	// price. The first capture group is handed to the cleaner.
	FallbackRegex string
	Cleaner       CleanerFunc
}

// Marker flags a page state. It matches when a node selected by CSS exists
// and, if Text is set, that node's text contains Text case-insensitively.
type Marker struct {
	CSS  string
	Text string
}

// Matches reports whether the marker is present in doc
func (m Marker) Matches(doc *goquery.Document) bool {
	nodes := doc.Find(m.CSS)
	if m.Text == "" {
		return nodes.Length() > 0
	}
	want := strings.ToLower(m.Text)
	found := false
	nodes.EachWithBreak(func(i int, s *goquery.Selection) bool {
		found = strings.Contains(strings.ToLower(s.Text()), want)
		return !found
	})
	return found
}
