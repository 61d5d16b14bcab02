package report

import (
	"context"
	"embed"
	"html/template"
	"io"
	"time"

	"sjsage522/pricewatch/internal/product"
)

//go:embed templates
var templatesFs embed.FS

// IndexRow is one product line on the index page
type IndexRow struct {
	Product      product.Product
	Chart        string
	Latest       string
	LatestAt     time.Time
	LowestRecent string
	HasHistory   bool
}

// IndexContext is the data the index template renders
type IndexContext struct {
	Title       string
	PathPrefix  string
	LastUpdated time.Time
	Rows        []IndexRow
}

// FormattedLastUpdated returns the generation time for display
func (c IndexContext) FormattedLastUpdated() string {
	return c.LastUpdated.UTC().Format("2006-01-02 15:04:05 MST")
}

// WriteIndex renders the product overview. Chart links are relative to
// pathPrefix; an empty prefix links to the chart files next to the index.
func (r *Reporter) WriteIndex(ctx context.Context, w io.Writer, products []product.Product, pathPrefix string) error {
	c := IndexContext{
		Title:       "Price watch",
		PathPrefix:  pathPrefix,
		LastUpdated: r.now(),
	}

	for _, p := range products {
		row := IndexRow{Product: p, Chart: ChartFile(p.ID)}
		latest, ok, err := r.store.Latest(ctx, p.ID)
		if err != nil {
			return err
		}
		if ok {
			row.HasHistory = true
			row.Latest = p.FormatPrice(latest.Price)
			row.LatestAt = latest.ObservedAt
			low, found, err := r.store.LowestSince(ctx, p.ID, latest.ObservedAt.Add(-30*24*time.Hour))
			if err != nil {
				return err
			}
			if found {
				row.LowestRecent = p.FormatPrice(low)
			}
		}
		c.Rows = append(c.Rows, row)
	}

	t, err := template.ParseFS(templatesFs, "templates/index.html.tpl")
	if err != nil {
		return err
	}
	return t.Execute(w, c)
}
