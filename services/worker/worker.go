package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"sjsage522/pricewatch/helpers"
	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/logger"
	apperrors "sjsage522/pricewatch/pkg/errors"
	"sjsage522/pricewatch/services/cache"
	"sjsage522/pricewatch/services/notifier"
	"sjsage522/pricewatch/services/publisher"
	"sjsage522/pricewatch/services/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// lowWindow is how far back the "recent low" in drop alerts looks
const lowWindow = 30 * 24 * time.Hour

// Fetcher retrieves the raw markup of a product page
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns markup into a price for a site, skipping candidates that
// accept rejects
type Extractor interface {
	ExtractWithin(markup []byte, site string, accept func(decimal.Decimal) bool) (decimal.Decimal, error)
}

// Summary counts what happened during one run
type Summary struct {
	RunID   string
	Checked int
	Stored  int
	Drops   int
	Skipped int
	Failed  int
}

// Worker runs the fetch, extract, compare, store, notify pipeline over the
// product list, one product at a time
type Worker struct {
	products      []product.Product
	fetcher       Fetcher
	extractor     Extractor
	store         store.PriceStore
	notifier      notifier.Notifier
	publisher     publisher.Publisher
	cooldown      *cache.Cooldown
	logger        helpers.LoggerInterface
	log           *logger.Logger
	requestDelay  time.Duration
	notifyOnFirst bool
	now           func() time.Time
}

// Option configures optional worker collaborators
type Option func(*Worker)

// WithPublisher publishes every drop event to pub
func WithPublisher(pub publisher.Publisher) Option {
	return func(w *Worker) { w.publisher = pub }
}

// WithCooldown skips sites that recently answered with a rate limit
func WithCooldown(c *cache.Cooldown) Option {
	return func(w *Worker) { w.cooldown = c }
}

// WithRequestDelay pauses between two products
func WithRequestDelay(d time.Duration) Option {
	return func(w *Worker) { w.requestDelay = d }
}

// WithNotifyOnFirstSeen sends a tracking message on a product's first observation
func WithNotifyOnFirstSeen(enabled bool) Option {
	return func(w *Worker) { w.notifyOnFirst = enabled }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithLog replaces the structured logger
func WithLog(l *logger.Logger) Option {
	return func(w *Worker) { w.log = l }
}

// NewWorker creates a new worker
func NewWorker(
	products []product.Product,
	fetcher Fetcher,
	extractor Extractor,
	priceStore store.PriceStore,
	n notifier.Notifier,
	log helpers.LoggerInterface,
	opts ...Option,
) *Worker {
	w := &Worker{
		products:  products,
		fetcher:   fetcher,
		extractor: extractor,
		store:     priceStore,
		notifier:  n,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.ForWorker()
	}
	return w
}

// RunOnce processes every product once. Fetch and extraction failures are
// logged and skipped. The returned error is non-nil when at least one
// observation could not be stored or the context was cancelled.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	log := w.log.WithStr("run_id", summary.RunID)
	start := time.Now()

	var storeErrs []error
	for i, p := range w.products {
		if i > 0 && w.requestDelay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(w.requestDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Checked++
		res, err := w.check(ctx, summary.RunID, p)
		switch {
		case err == nil:
		case res == resultSkipped:
			summary.Skipped++
			w.logger.LogError(p.ID, err)
			continue
		default:
			summary.Failed++
			w.logger.LogError(p.ID, err)
			if apperrors.IsFatal(err) {
				storeErrs = append(storeErrs, err)
			}
			continue
		}

		summary.Stored++
		if res == resultDrop {
			summary.Drops++
		}
	}

	log.Info().
		Int("checked", summary.Checked).
		Int("stored", summary.Stored).
		Int("drops", summary.Drops).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("run finished")

	return summary, errors.Join(storeErrs...)
}

type result int

const (
	resultStored result = iota
	resultDrop
	resultSkipped
	resultFailed
)

func (w *Worker) check(ctx context.Context, runID string, p product.Product) (result, error) {
	log := w.log.WithFields(logger.Fields{"site": p.Site, "product": p.ID})

	active, err := w.cooldown.Active(p.Site)
	if err != nil {
		log.Warn().Err(err).Msg("cooldown lookup failed")
	}
	if active {
		return resultSkipped, apperrors.NewFetch(p.ID, "site "+p.Site+" is cooling down after a rate limit", nil)
	}

	markup, err := w.fetcher.Fetch(ctx, p.URL)
	if err != nil {
		if apperrors.IsRateLimited(err) {
			if blockErr := w.cooldown.Block(p.Site); blockErr != nil {
				log.Warn().Err(blockErr).Msg("failed to start site cooldown")
			}
		}
		return resultFailed, err
	}

	price, err := w.extractor.ExtractWithin(markup, p.Site, p.InRange)
	if err != nil {
		return resultFailed, err
	}

	previous, exists, err := w.store.Latest(ctx, p.ID)
	if err != nil {
		return resultFailed, asStoreError(p.ID, "failed to read latest observation", err)
	}

	current := product.Observation{
		ProductID:  p.ID,
		Price:      price,
		ObservedAt: w.observedAt(previous, exists),
		Site:       p.Site,
	}

	var prev *product.Observation
	if exists {
		prev = &previous
	}
	event := product.Compare(prev, current)

	if err := w.store.Append(ctx, current); err != nil {
		return resultFailed, asStoreError(p.ID, "failed to append observation", err)
	}
	log.Debug().Str("price", price.String()).Msg("price stored")

	if !exists {
		if w.notifyOnFirst {
			if err := w.notifier.NotifyTracking(ctx, p, current); err != nil {
				w.logger.LogError(p.ID, err)
			}
		}
		return resultStored, nil
	}
	if event == nil {
		return resultStored, nil
	}

	log.Info().
		Str("previous", event.Previous.String()).
		Str("current", event.Current.String()).
		Msg("price dropped")

	alert := notifier.DropAlert{Product: p, Event: *event}
	if low, ok, err := w.store.LowestSince(ctx, p.ID, current.ObservedAt.Add(-lowWindow)); err != nil {
		log.Warn().Err(err).Msg("failed to read recent low")
	} else if ok {
		alert.LowestRecent = &low
	}

	if err := w.notifier.NotifyDrop(ctx, alert); err != nil {
		w.logger.LogError(p.ID, err)
	}
	w.publish(runID, p, current, *event)

	return resultDrop, nil
}

// observedAt returns the current time at millisecond precision, moved past the
// previous observation when the clock has not advanced
func (w *Worker) observedAt(previous product.Observation, exists bool) time.Time {
	t := w.now().UTC().Truncate(time.Millisecond)
	if exists && !t.After(previous.ObservedAt) {
		t = previous.ObservedAt.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return t
}

// DropMessage is the payload published for every drop
type DropMessage struct {
	EventID     string          `json:"event_id"`
	RunID       string          `json:"run_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Site        string          `json:"site"`
	URL         string          `json:"url"`
	Previous    decimal.Decimal `json:"previous"`
	Current     decimal.Decimal `json:"current"`
	Delta       decimal.Decimal `json:"delta"`
	Percent     decimal.Decimal `json:"percent"`
	ObservedAt  time.Time       `json:"observed_at"`
}

func (w *Worker) publish(runID string, p product.Product, obs product.Observation, event product.DropEvent) {
	if w.publisher == nil {
		return
	}

	data, err := json.Marshal(DropMessage{
		EventID:     uuid.NewString(),
		RunID:       runID,
		ProductID:   p.ID,
		ProductName: p.DisplayName(),
		Site:        p.Site,
		URL:         p.URL,
		Previous:    event.Previous,
		Current:     event.Current,
		Delta:       event.Delta,
		Percent:     event.Percent(),
		ObservedAt:  obs.ObservedAt,
	})
	if err != nil {
		w.logger.LogError(p.ID, apperrors.NewPublisher(p.ID, "failed to encode drop event", err))
		return
	}

	if err := w.publisher.Publish(p.ID, data); err != nil {
		w.logger.LogError(p.ID, apperrors.NewPublisher(p.ID, "failed to publish drop event", err))
	}
}

func asStoreError(productID, message string, err error) error {
	if apperrors.IsType(err, apperrors.ErrorTypeStore) {
		return err
	}
	return apperrors.NewStore(productID, message, err)
}
