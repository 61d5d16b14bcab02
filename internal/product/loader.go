package product

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"sjsage522/pricewatch/helpers"
	apperrors "sjsage522/pricewatch/pkg/errors"
)

// SiteResolver maps a product to a registered extraction site
type SiteResolver interface {
	HasRule(site string) bool
	DetectSite(rawURL string) (string, bool)
}

// LoadFile reads the products file and validates every entry
func LoadFile(path string, sites SiteResolver) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfiguration("cannot read products file "+path, err)
	}
	return Parse(data, sites)
}

// Parse decodes a JSON array of products, filling in the site from the URL host
// when it is not set explicitly
func Parse(data []byte, sites SiteResolver) ([]Product, error) {
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, apperrors.NewConfiguration("invalid products file", err)
	}

	seen := make(map[string]struct{}, len(products))
	// chart files are named after the slug; case-insensitive filesystems fold case
	slugs := make(map[string]string, len(products))
	for i := range products {
		p := &products[i]
		p.ID = strings.TrimSpace(p.ID)
		p.URL = strings.TrimSpace(p.URL)
		p.Site = strings.ToLower(strings.TrimSpace(p.Site))

		if p.ID == "" {
			return nil, apperrors.NewValidation(fmt.Sprintf("#%d", i), "product id is empty")
		}
		if _, dup := seen[p.ID]; dup {
			return nil, apperrors.NewValidation(p.ID, "duplicate product id")
		}
		seen[p.ID] = struct{}{}

		slug := strings.ToLower(helpers.Slugify(p.ID))
		if other, clash := slugs[slug]; clash {
			return nil, apperrors.NewValidation(p.ID, fmt.Sprintf("product id maps to the same file name as %q", other))
		}
		slugs[slug] = p.ID

		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperrors.NewValidation(p.ID, fmt.Sprintf("invalid url %q", p.URL))
		}

		if p.Site == "" {
			site, ok := sites.DetectSite(p.URL)
			if !ok {
				return nil, apperrors.NewValidation(p.ID, "no extraction rule matches host "+u.Host)
			}
			p.Site = site
		} else if !sites.HasRule(p.Site) {
			return nil, apperrors.NewValidation(p.ID, "unknown site "+p.Site)
		}

		if p.MinPrice != nil && p.MaxPrice != nil && p.MinPrice.GreaterThan(*p.MaxPrice) {
			return nil, apperrors.NewValidation(p.ID, "min_price is greater than max_price")
		}
	}

	return products, nil
}
