package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sjsage522/pricewatch/config"
	"sjsage522/pricewatch/helpers"
	"sjsage522/pricewatch/internal/extractor"
	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/logger"
	apperrors "sjsage522/pricewatch/pkg/errors"
	"sjsage522/pricewatch/services/cache"
	"sjsage522/pricewatch/services/notifier"
	"sjsage522/pricewatch/services/publisher"
	"sjsage522/pricewatch/services/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func amazonPage(price string) []byte {
	return []byte(fmt.Sprintf(`<html><body>
		<span class="a-price"><span class="a-offscreen">₹%s.00</span></span>
	</body></html>`, price))
}

// MockFetcher serves canned pages per URL
type MockFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	errs  map[string]error
	calls map[string]int
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		pages: make(map[string][]byte),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (m *MockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[url]++
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	if page, ok := m.pages[url]; ok {
		return page, nil
	}
	return nil, apperrors.NewFetch(url, "unexpected status code: 404", nil)
}

// MockNotifier records notifications through testify/mock
type MockNotifier struct {
	mock.Mock
}

var _ notifier.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) NotifyDrop(ctx context.Context, alert notifier.DropAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockNotifier) NotifyTracking(ctx context.Context, p product.Product, first product.Observation) error {
	args := m.Called(ctx, p, first)
	return args.Error(0)
}

// MockPublisher implements the publisher.Publisher interface for testing
type MockPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

var _ publisher.Publisher = (*MockPublisher)(nil)

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{messages: make(map[string][][]byte)}
}

func (m *MockPublisher) Publish(key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	messageCopy := make([]byte, len(message))
	copy(messageCopy, message)
	m.messages[key] = append(m.messages[key], messageCopy)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// MockLogger implements the helpers.LoggerInterface for testing
type MockLogger struct {
	mu     sync.Mutex
	errors []error
}

var _ helpers.LoggerInterface = (*MockLogger)(nil)

func (m *MockLogger) LogError(productID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

// memoryCache is an in-memory cache.CacheService
type memoryCache struct {
	data map[string][]byte
}

func (c *memoryCache) Get(key string) ([]byte, error) {
	if v, ok := c.data[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (c *memoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *memoryCache) Delete(key string) error {
	delete(c.data, key)
	return nil
}

// failingStore rejects every append
type failingStore struct {
	store.PriceStore
}

func (failingStore) Append(ctx context.Context, obs product.Observation) error {
	return errors.New("disk I/O error")
}

func newTestStore(t *testing.T) store.PriceStore {
	t.Helper()
	s, err := store.Open(context.Background(), config.DriverSQLite, filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var iphone = product.Product{
	ID:       "iphone-15",
	Name:     "Apple iPhone 15 (128 GB)",
	Site:     "amazon",
	URL:      "https://www.amazon.in/dp/B0CHX1W1XY",
	Currency: "₹",
}

var pixel = product.Product{
	ID:   "pixel-8",
	Name: "Google Pixel 8",
	Site: "amazon",
	URL:  "https://www.amazon.in/dp/B0CJ4JW7NC",
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRunOnceDropNotifies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	n := new(MockNotifier)
	pub := NewMockPublisher()
	mockLogger := &MockLogger{}

	w := NewWorker([]product.Product{iphone}, fetcher, extractor.NewDefault(), s, n, mockLogger,
		WithPublisher(pub),
		WithLog(logger.Nop()),
		WithClock(fixedClock(time.Now())))

	// first observation never notifies
	fetcher.pages[iphone.URL] = amazonPage("79,900")
	summary, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 0, summary.Drops)
	n.AssertNotCalled(t, "NotifyDrop", mock.Anything, mock.Anything)

	fetcher.pages[iphone.URL] = amazonPage("74,900")
	n.On("NotifyDrop", mock.Anything, mock.MatchedBy(func(a notifier.DropAlert) bool {
		return a.Product.ID == iphone.ID &&
			a.Event.Previous.Equal(decimal.NewFromInt(79900)) &&
			a.Event.Current.Equal(decimal.NewFromInt(74900)) &&
			a.Event.Delta.Equal(decimal.NewFromInt(5000)) &&
			a.LowestRecent != nil && a.LowestRecent.Equal(decimal.NewFromInt(74900))
	})).Return(nil).Once()

	summary, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Drops)
	n.AssertExpectations(t)
	assert.Empty(t, mockLogger.errors)

	history, err := store.Collect(s.History(ctx, iphone.ID))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].ObservedAt.After(history[0].ObservedAt), "clamped timestamps must increase")

	require.Len(t, pub.messages[iphone.ID], 1)
	var msg DropMessage
	require.NoError(t, json.Unmarshal(pub.messages[iphone.ID][0], &msg))
	assert.Equal(t, summary.RunID, msg.RunID)
	assert.NotEmpty(t, msg.EventID)
	assert.Equal(t, "5000", msg.Delta.String())
	assert.Equal(t, "6.26", msg.Percent.String())
}

func TestRunOnceEqualPriceIsSilent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	fetcher.pages[iphone.URL] = amazonPage("74,900")
	n := new(MockNotifier)

	w := NewWorker([]product.Product{iphone}, fetcher, extractor.NewDefault(), s, n, &MockLogger{}, WithLog(logger.Nop()))

	for i := 0; i < 3; i++ {
		summary, err := w.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Stored)
		assert.Equal(t, 0, summary.Drops)
	}

	n.AssertNotCalled(t, "NotifyDrop", mock.Anything, mock.Anything)
	history, err := store.Collect(s.History(ctx, iphone.ID))
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRunOnceNotifyOnFirstSeen(t *testing.T) {
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	fetcher.pages[iphone.URL] = amazonPage("79,900")
	n := new(MockNotifier)
	n.On("NotifyTracking", mock.Anything, iphone, mock.AnythingOfType("product.Observation")).Return(nil).Once()

	w := NewWorker([]product.Product{iphone}, fetcher, extractor.NewDefault(), s, n, &MockLogger{},
		WithNotifyOnFirstSeen(true), WithLog(logger.Nop()))

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	n.AssertExpectations(t)
}

func TestRunOnceMarkupChangedStoresNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	fetcher.pages[iphone.URL] = []byte(`<html><body><div class="new-price-widget">₹74,900</div></body></html>`)
	mockLogger := &MockLogger{}

	w := NewWorker([]product.Product{iphone}, fetcher, extractor.NewDefault(), s, new(MockNotifier), mockLogger, WithLog(logger.Nop()))

	summary, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Stored)

	_, exists, err := s.Latest(ctx, iphone.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.Len(t, mockLogger.errors, 1)
	assert.True(t, apperrors.IsType(mockLogger.errors[0], apperrors.ErrorTypeExtraction))
}

func TestRunOnceFetchFailureIsIsolated(t *testing.T) {
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	fetcher.errs[iphone.URL] = apperrors.NewFetch(iphone.URL, "failed to fetch URL", errors.New("connection refused"))
	fetcher.pages[pixel.URL] = amazonPage("75,999")

	w := NewWorker([]product.Product{iphone, pixel}, fetcher, extractor.NewDefault(), s, new(MockNotifier), &MockLogger{}, WithLog(logger.Nop()))

	summary, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Stored)

	latest, exists, err := s.Latest(context.Background(), pixel.ID)
	require.NoError(t, err)
	require.True(t, exists)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(75999)))
}

func TestRunOnceOutOfBoundsPrice(t *testing.T) {
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	fetcher.pages[iphone.URL] = amazonPage("3,612")
	minPrice := decimal.NewFromInt(40000)
	p := iphone
	p.MinPrice = &minPrice

	w := NewWorker([]product.Product{p}, fetcher, extractor.NewDefault(), s, new(MockNotifier), &MockLogger{}, WithLog(logger.Nop()))

	summary, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Stored)
}

func TestRunOnceBoundsSkipEarlierAmounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	minPrice := decimal.NewFromInt(40000)
	watch := product.Product{
		ID:       "galaxy-s24",
		Site:     "generic",
		URL:      "https://shop.example.in/galaxy-s24",
		MinPrice: &minPrice,
	}
	fetcher.pages[watch.URL] = []byte(`<html><body>
		<p>EMI from ₹3,612/month, cover at ₹1,996</p>
		<p>Price ₹74,900</p>
	</body></html>`)

	w := NewWorker([]product.Product{watch}, fetcher, extractor.NewDefault(), s, new(MockNotifier), &MockLogger{}, WithLog(logger.Nop()))

	summary, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 0, summary.Failed)

	latest, exists, err := s.Latest(ctx, watch.ID)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "74900", latest.Price.String())
}

func TestRunOnceStoreFailureIsFatal(t *testing.T) {
	fetcher := NewMockFetcher()
	fetcher.pages[iphone.URL] = amazonPage("74,900")
	fetcher.pages[pixel.URL] = amazonPage("75,999")
	n := new(MockNotifier)

	s := failingStore{PriceStore: newTestStore(t)}
	w := NewWorker([]product.Product{iphone, pixel}, fetcher, extractor.NewDefault(), s, n, &MockLogger{},
		WithNotifyOnFirstSeen(true), WithLog(logger.Nop()))

	summary, err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 2, summary.Failed)
	n.AssertNotCalled(t, "NotifyTracking", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceNotifyFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, product.Observation{
		ProductID: iphone.ID, Price: decimal.NewFromInt(79900), ObservedAt: base, Site: "amazon",
	}))

	fetcher := NewMockFetcher()
	fetcher.pages[iphone.URL] = amazonPage("74,900")
	n := new(MockNotifier)
	n.On("NotifyDrop", mock.Anything, mock.Anything).Return(apperrors.NewNotify(iphone.ID, "telegram returned status 502", nil))
	mockLogger := &MockLogger{}

	w := NewWorker([]product.Product{iphone}, fetcher, extractor.NewDefault(), s, n, mockLogger,
		WithLog(logger.Nop()), WithClock(fixedClock(base.Add(time.Hour))))

	summary, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Drops)

	latest, _, err := s.Latest(ctx, iphone.ID)
	require.NoError(t, err)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(74900)), "observation stays stored")

	require.Len(t, mockLogger.errors, 1)
	assert.True(t, apperrors.IsType(mockLogger.errors[0], apperrors.ErrorTypeNotify))
}

func TestRunOnceRateLimitStartsCooldown(t *testing.T) {
	s := newTestStore(t)
	fetcher := NewMockFetcher()
	fetcher.errs[iphone.URL] = apperrors.NewRateLimited(iphone.URL, 503, "")
	fetcher.pages[pixel.URL] = amazonPage("75,999")
	cooldown := cache.NewCooldown(&memoryCache{data: make(map[string][]byte)}, 30*time.Minute)

	w := NewWorker([]product.Product{iphone, pixel}, fetcher, extractor.NewDefault(), s, new(MockNotifier), &MockLogger{},
		WithCooldown(cooldown), WithLog(logger.Nop()))

	summary, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, fetcher.calls[pixel.URL])

	active, err := cooldown.Active("amazon")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRunOnceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker([]product.Product{iphone}, NewMockFetcher(), extractor.NewDefault(), newTestStore(t), new(MockNotifier), &MockLogger{}, WithLog(logger.Nop()))

	summary, err := w.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, summary.Checked)
}

func TestObservedAtIsMonotonic(t *testing.T) {
	now := time.Date(2026, 10, 1, 9, 0, 0, 123456789, time.UTC)
	w := &Worker{now: fixedClock(now)}

	first := w.observedAt(product.Observation{}, false)
	assert.Equal(t, now.Truncate(time.Millisecond), first)

	second := w.observedAt(product.Observation{ObservedAt: first}, true)
	assert.Equal(t, first.Add(time.Millisecond), second)

	future := now.Add(time.Hour)
	assert.Equal(t, future.Add(time.Millisecond), w.observedAt(product.Observation{ObservedAt: future}, true))
}
