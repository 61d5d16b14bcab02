package extractor

import (
	"bytes"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"

	"sjsage522/pricewatch/logger"
	apperrors "sjsage522/pricewatch/pkg/errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// Extractor locates and parses prices using a registry of site rules
type Extractor struct {
	rules     map[string]Rule
	fallbacks map[string]*regexp.Regexp
}

// New creates an extractor preloaded with rules
func New(rules ...Rule) (*Extractor, error) {
	e := &Extractor{
		rules:     make(map[string]Rule),
		fallbacks: make(map[string]*regexp.Regexp),
	}
	for _, r := range rules {
		if err := e.Register(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NewDefault creates an extractor with the built-in site rules
func NewDefault() *Extractor {
	e, err := New(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return e
}

// Register adds or replaces the rule for rule.Site
func (e *Extractor) Register(rule Rule) error {
	rule.Site = strings.ToLower(strings.TrimSpace(rule.Site))
	if rule.Site == "" {
		return apperrors.NewValidation("", "rule site is empty")
	}
	if len(rule.Price) == 0 && rule.FallbackRegex == "" {
		return apperrors.NewValidation(rule.Site, "rule has neither price selectors nor fallback regex")
	}
	if rule.Cleaner == nil {
		rule.Cleaner = CleanDotDecimal
	}

	delete(e.fallbacks, rule.Site)
	if rule.FallbackRegex != "" {
		re, err := regexp.Compile(rule.FallbackRegex)
		if err != nil {
			return apperrors.New(apperrors.ErrorTypeValidation, rule.Site, "invalid fallback regex", err)
		}
		e.fallbacks[rule.Site] = re
	}

	e.rules[rule.Site] = rule
	return nil
}

// RuleFor returns the rule registered for site
func (e *Extractor) RuleFor(site string) (Rule, bool) {
	rule, ok := e.rules[site]
	return rule, ok
}

// HasRule reports whether a rule is registered for site
func (e *Extractor) HasRule(site string) bool {
	_, ok := e.RuleFor(site)
	return ok
}

// Sites returns the registered site identifiers in sorted order
func (e *Extractor) Sites() []string {
	sites := make([]string, 0, len(e.rules))
	for site := range e.rules {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}

// DetectSite finds the rule whose host fragments match the URL host
func (e *Extractor) DetectSite(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())

	for _, site := range e.Sites() {
		for _, fragment := range e.rules[site].Hosts {
			if strings.Contains(host, fragment) {
				return site, true
			}
		}
	}
	return "", false
}

// Extract returns the price found in markup using the rule registered for site
func (e *Extractor) Extract(markup []byte, site string) (decimal.Decimal, error) {
	return e.ExtractWithin(markup, site, nil)
}

// ExtractWithin is Extract with a filter: candidates rejected by accept are
// skipped and the search moves on to the next node or fallback match. A nil
// accept takes every parseable amount.
func (e *Extractor) ExtractWithin(markup []byte, site string, accept func(decimal.Decimal) bool) (decimal.Decimal, error) {
	rule, ok := e.rules[site]
	if !ok {
		return decimal.Zero, apperrors.NewExtraction(site, "no extraction rule for site", nil)
	}
	if accept == nil {
		accept = func(decimal.Decimal) bool { return true }
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return decimal.Zero, apperrors.NewExtraction(site, "HTML parsing failed", err)
	}

	for _, sel := range rule.Blocked {
		if doc.Find(sel).Length() > 0 {
			return decimal.Zero, apperrors.NewExtraction(site, "request was answered with a challenge page", nil)
		}
	}

	for _, m := range rule.Unavailable {
		if m.Matches(doc) {
			return decimal.Zero, apperrors.NewExtraction(site, "product unavailable", nil)
		}
	}

	c := candidates{clean: rule.Cleaner, accept: accept}
	for _, sel := range rule.Price {
		if price, found := c.fromSelector(doc, sel); found {
			return price, nil
		}
	}

	if re, ok := e.fallbacks[site]; ok {
		text := doc.Text()
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if len(m) > 3 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			if isInstalment(text[m[1]:]) {
				continue
			}
			if price, ok := c.try(text[start:end]); ok {
				logger.ForSite(site).Debug().Str("price", price.String()).Msg("price taken from page text")
				return price, nil
			}
		}
	}

	if len(c.rejected) > 0 {
		return decimal.Zero, apperrors.NewExtraction(site,
			"no price within the configured bounds, rejected "+strings.Join(c.rejected, ", "), nil)
	}
	if c.lastErr != nil {
		return decimal.Zero, apperrors.NewExtraction(site, "price text did not parse", c.lastErr)
	}
	return decimal.Zero, apperrors.NewExtraction(site, "price node not found", nil)
}

// candidates tracks why price candidates were turned down
type candidates struct {
	clean    CleanerFunc
	accept   func(decimal.Decimal) bool
	rejected []string
	lastErr  error
}

func (c *candidates) try(text string) (decimal.Decimal, bool) {
	p, err := c.clean(text)
	if err != nil {
		c.lastErr = err
		return decimal.Zero, false
	}
	if !c.accept(p) {
		if !slices.Contains(c.rejected, p.String()) {
			c.rejected = append(c.rejected, p.String())
		}
		return decimal.Zero, false
	}
	return p, true
}

// fromSelector returns the first accepted price among the nodes matched by sel
func (c *candidates) fromSelector(doc *goquery.Document, sel PriceSelector) (decimal.Decimal, bool) {
	var (
		price decimal.Decimal
		found bool
	)

	doc.Find(sel.CSS).EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := nodeText(s, sel.Attr)
		if text == "" || isInstalment(text) {
			return true
		}
		price, found = c.try(text)
		return !found
	})

	return price, found
}

func nodeText(s *goquery.Selection, attr string) string {
	if attr != "" {
		if v, ok := s.Attr(attr); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.Text())
}

// instalmentAmount matches text that starts with an amount quoted per month,
// like "₹3,612/month" or "/mo" directly after a fallback match
var instalmentAmount = regexp.MustCompile(`(?i)^\D{0,8}[\d,.\s\x{00A0}]*(?:/|per)\s*(?:month|mo|mth)\b`)

func isInstalment(text string) bool {
	return instalmentAmount.MatchString(text)
}
