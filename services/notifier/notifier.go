package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"

	"sjsage522/pricewatch/internal/product"

	"github.com/shopspring/decimal"
)

// DropAlert carries everything a drop message shows
type DropAlert struct {
	Product product.Product
	Event   product.DropEvent
	// LowestRecent is the 30-day low including the new price, nil when unknown
	LowestRecent *decimal.Decimal
}

// Notifier delivers messages through an external push channel
type Notifier interface {
	// NotifyDrop sends a price drop message
	NotifyDrop(ctx context.Context, alert DropAlert) error

	// NotifyTracking announces the first observation of a product
	NotifyTracking(ctx context.Context, p product.Product, first product.Observation) error
}

// FormatDrop renders a drop alert as Telegram HTML
func FormatDrop(alert DropAlert) string {
	p := alert.Product
	e := alert.Event

	var b strings.Builder
	b.WriteString("📉 <b>Price dropped!</b>\n")
	b.WriteString(html.EscapeString(p.DisplayName()) + "\n")
	fmt.Fprintf(&b, "Old: %s\n", html.EscapeString(p.FormatPrice(e.Previous)))
	fmt.Fprintf(&b, "New: %s\n", html.EscapeString(p.FormatPrice(e.Current)))
	fmt.Fprintf(&b, "Drop: %s (%s%%)\n", html.EscapeString(p.FormatPrice(e.Delta)), e.Percent().StringFixed(2))
	if alert.LowestRecent != nil {
		fmt.Fprintf(&b, "30-day low: %s\n", html.EscapeString(p.FormatPrice(*alert.LowestRecent)))
	}
	b.WriteString(html.EscapeString(p.URL))
	return b.String()
}

// FormatTracking renders the first-observation message
func FormatTracking(p product.Product, first product.Observation) string {
	return fmt.Sprintf("📊 Started tracking:\n%s\nCurrent price: %s\n%s",
		html.EscapeString(p.DisplayName()),
		html.EscapeString(p.FormatPrice(first.Price)),
		html.EscapeString(p.URL))
}
