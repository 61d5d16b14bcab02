package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"sjsage522/pricewatch/helpers"
	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/logger"
	"sjsage522/pricewatch/services/store"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	indexFile = "index.html"
	csvFile   = "prices.csv"
)

// ErrNoHistory is returned when a product has no stored observations
var ErrNoHistory = errors.New("no price history")

// Reporter renders price history charts from the store. It only reads.
type Reporter struct {
	store store.PriceStore
	dir   string
	log   *logger.Logger
	now   func() time.Time
}

// New creates a reporter writing artifacts to dir
func New(s store.PriceStore, dir string) *Reporter {
	return &Reporter{
		store: s,
		dir:   dir,
		log:   logger.ForReport(),
		now:   time.Now,
	}
}

// ChartFile returns the artifact name of a product chart
func ChartFile(productID string) string {
	return helpers.Slugify(productID) + ".html"
}

// WriteChart renders the full history of p as a line chart into w
func (r *Reporter) WriteChart(ctx context.Context, w io.Writer, p product.Product) error {
	history, err := store.Collect(r.store.History(ctx, p.ID))
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("%s: %w", p.ID, ErrNoHistory)
	}

	times := make([]string, 0, len(history))
	points := make([]opts.LineData, 0, len(history))
	for _, obs := range history {
		times = append(times, obs.ObservedAt.UTC().Format("2006-01-02 15:04"))
		points = append(points, opts.LineData{Value: obs.Price.InexactFloat64()})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: p.DisplayName(),
			Width:     "960px",
			Height:    "480px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    p.DisplayName(),
			Subtitle: fmt.Sprintf("%s · latest %s", p.Site, p.FormatPrice(history[len(history)-1].Price)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Observed (UTC)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Price"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(times).AddSeries("Price", points)

	return line.Render(w)
}

// Render writes the chart of p to <dir>/<slug>.html and returns its path
func (r *Reporter) Render(ctx context.Context, p product.Product) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}

	path := filepath.Join(r.dir, ChartFile(p.ID))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating chart file: %w", err)
	}

	if err := r.WriteChart(ctx, f, p); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing chart file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("replacing chart file: %w", err)
	}
	return path, nil
}

// Summary lists what RenderAll produced
type Summary struct {
	Charts []string
	Index  string
	CSV    string
}

// RenderAll writes every product chart, the index page and the CSV export.
// Products without history get no chart but still appear in the index.
func (r *Reporter) RenderAll(ctx context.Context, products []product.Product) (Summary, error) {
	var summary Summary
	for _, p := range products {
		path, err := r.Render(ctx, p)
		if errors.Is(err, ErrNoHistory) {
			r.log.Debug().Str("product", p.ID).Msg("skipping chart, no history")
			continue
		}
		if err != nil {
			return summary, err
		}
		summary.Charts = append(summary.Charts, path)
	}

	index, err := r.writeFile(indexFile, func(w io.Writer) error {
		return r.WriteIndex(ctx, w, products, "")
	})
	if err != nil {
		return summary, err
	}
	summary.Index = index

	export, err := r.writeFile(csvFile, func(w io.Writer) error {
		return r.WriteCSV(ctx, w, products)
	})
	if err != nil {
		return summary, err
	}
	summary.CSV = export

	r.log.Info().Int("charts", len(summary.Charts)).Str("dir", r.dir).Msg("report written")
	return summary, nil
}

func (r *Reporter) writeFile(name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("creating report dir: %w", err)
	}
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", name, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// WriteCSV exports the history of every product, oldest first per product
func (r *Reporter) WriteCSV(ctx context.Context, w io.Writer, products []product.Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"product_id", "site", "product_name", "price", "observed_at"}); err != nil {
		return err
	}

	for _, p := range products {
		for obs, err := range r.store.History(ctx, p.ID) {
			if err != nil {
				return err
			}
			record := []string{
				obs.ProductID,
				obs.Site,
				p.DisplayName(),
				obs.Price.String(),
				obs.ObservedAt.UTC().Format(time.RFC3339Nano),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}
