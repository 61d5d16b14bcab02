package product

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a tracked item loaded from the products file
type Product struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Site     string           `json:"site,omitempty"`
	URL      string           `json:"url"`
	Currency string           `json:"currency,omitempty"`
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
}

// DisplayName returns the name, falling back to the URL
func (p Product) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.URL
}

// FormatPrice renders an amount with the product's currency symbol
func (p Product) FormatPrice(amount decimal.Decimal) string {
	s := amount.String()
	if !amount.Equal(amount.Truncate(0)) {
		s = amount.StringFixed(2)
	}
	return p.Currency + s
}

// InRange reports whether price lies within the product's optional bounds
func (p Product) InRange(price decimal.Decimal) bool {
	if p.MinPrice != nil && price.LessThan(*p.MinPrice) {
		return false
	}
	if p.MaxPrice != nil && price.GreaterThan(*p.MaxPrice) {
		return false
	}
	return true
}

// Observation is one timestamped price reading
type Observation struct {
	ProductID  string          `json:"product_id"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
	Site       string          `json:"site"`
}

// DropEvent describes a price decrease between two consecutive observations
type DropEvent struct {
	ProductID string          `json:"product_id"`
	Previous  decimal.Decimal `json:"previous"`
	Current   decimal.Decimal `json:"current"`
	Delta     decimal.Decimal `json:"delta"`
}

// Percent returns the drop relative to the previous price, rounded to two places
func (e DropEvent) Percent() decimal.Decimal {
	if e.Previous.IsZero() {
		return decimal.Zero
	}
	return e.Delta.Div(e.Previous).Mul(decimal.NewFromInt(100)).Round(2)
}
