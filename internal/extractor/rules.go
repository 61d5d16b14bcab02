package extractor

// rupeeFallback matches "₹74,900" style amounts in free text. The length bound
// drops amounts under four characters; per-month figures such as "₹3,612/month"
// are skipped by the extractor.
const rupeeFallback = `₹\s*([\d,]{4,9}(?:\.\d{1,2})?)`

// DefaultRules returns the built-in site rules
func DefaultRules() []Rule {
	return []Rule{
		{
			Site:  "amazon",
			Hosts: []string{"amazon.", "amzn."},
			Price: []PriceSelector{
				{CSS: "#corePriceDisplay_desktop_feature_div .a-price .a-offscreen"},
				{CSS: "#corePrice_feature_div .a-price .a-offscreen"},
				{CSS: "#priceblock_dealprice"},
				{CSS: "#priceblock_ourprice"},
				{CSS: ".a-price .a-offscreen"},
				{CSS: "span.a-price-whole"},
			},
			Unavailable: []Marker{
				{CSS: "#outOfStock"},
				{CSS: "#availability .a-color-price", Text: "unavailable"},
			},
			Blocked: []string{"form[action='/errors/validateCaptcha']"},
			Cleaner: CleanDotDecimal,
		},
		{
			Site:  "flipkart",
			Hosts: []string{"flipkart.com"},
			Price: []PriceSelector{
				{CSS: "div.Nx9bqj.CxhGGd"},
				{CSS: "div._30jeq3._16Jk6d"},
				{CSS: "div.Nx9bqj"},
				{CSS: "div._30jeq3"},
			},
			Unavailable: []Marker{{CSS: "div.Z8JjpR"}, {CSS: "div._16FRp0"}},
			Cleaner:     CleanDotDecimal,
		},
		{
			Site: "generic",
			Price: []PriceSelector{
				{CSS: "meta[property='product:price:amount']", Attr: "content"},
				{CSS: "[itemprop='price']", Attr: "content"},
				{CSS: ".offer-price"},
				{CSS: ".price"},
			},
			Unavailable:   []Marker{{CSS: "link[itemprop='availability'][href$='OutOfStock']"}},
			FallbackRegex: rupeeFallback,
			Cleaner:       CleanDotDecimal,
		},
	}
}
