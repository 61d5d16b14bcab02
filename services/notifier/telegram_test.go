package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"sjsage522/pricewatch/internal/product"
	apperrors "sjsage522/pricewatch/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlert() DropAlert {
	low := decimal.NewFromInt(74900)
	return DropAlert{
		Product: product.Product{
			ID:       "iphone-15",
			Name:     "Apple iPhone 15 <128 GB>",
			URL:      "https://www.amazon.in/dp/B0CHX1W1XY",
			Currency: "₹",
		},
		Event: product.DropEvent{
			ProductID: "iphone-15",
			Previous:  decimal.NewFromInt(79900),
			Current:   decimal.NewFromInt(74900),
			Delta:     decimal.NewFromInt(5000),
		},
		LowestRecent: &low,
	}
}

func TestFormatDrop(t *testing.T) {
	text := FormatDrop(testAlert())

	assert.Contains(t, text, "Apple iPhone 15 &lt;128 GB&gt;")
	assert.Contains(t, text, "Old: ₹79900")
	assert.Contains(t, text, "New: ₹74900")
	assert.Contains(t, text, "Drop: ₹5000 (6.26%)")
	assert.Contains(t, text, "30-day low: ₹74900")
	assert.Contains(t, text, "https://www.amazon.in/dp/B0CHX1W1XY")
}

func TestFormatDropWithoutLow(t *testing.T) {
	alert := testAlert()
	alert.LowestRecent = nil
	assert.NotContains(t, FormatDrop(alert), "30-day low")
}

// sentMessage is a sendMessage call as the fake Bot API received it
type sentMessage struct {
	Path      string
	ChatID    string
	Text      string
	ParseMode string
	NoPreview string
}

func fakeBotAPI(t *testing.T, received *sentMessage) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		*received = sentMessage{
			Path:      r.URL.Path,
			ChatID:    r.PostFormValue("chat_id"),
			Text:      r.PostFormValue("text"),
			ParseMode: r.PostFormValue("parse_mode"),
			NoPreview: r.PostFormValue("disable_web_page_preview"),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1760000000,"chat":{"id":42,"type":"private"}}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTelegramNotifyDrop(t *testing.T) {
	var received sentMessage
	server := fakeBotAPI(t, &received)

	n := NewTelegramNotifier(server.URL+"/", "123:abc", "42")
	err := n.NotifyDrop(context.Background(), testAlert())
	require.NoError(t, err)

	assert.Equal(t, "/bot123:abc/sendMessage", received.Path)
	assert.Equal(t, "42", received.ChatID)
	assert.Equal(t, "HTML", received.ParseMode)
	assert.Equal(t, "true", received.NoPreview)
	assert.Contains(t, received.Text, "Old: ₹79900")
	assert.Contains(t, received.Text, "New: ₹74900")
}

func TestTelegramNotifyChannel(t *testing.T) {
	var received sentMessage
	server := fakeBotAPI(t, &received)

	err := NewTelegramNotifier(server.URL, "t", "@price_drops").NotifyDrop(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, "@price_drops", received.ChatID)
}

func TestTelegramNotifyTracking(t *testing.T) {
	var received sentMessage
	server := fakeBotAPI(t, &received)

	p := testAlert().Product
	first := product.Observation{ProductID: p.ID, Price: decimal.NewFromInt(79900)}

	err := NewTelegramNotifier(server.URL, "t", "42").NotifyTracking(context.Background(), p, first)
	require.NoError(t, err)
	assert.Contains(t, received.Text, "Started tracking")
	assert.Contains(t, received.Text, "Current price: ₹79900")
}

func TestTelegramNotifyErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	err := NewTelegramNotifier(server.URL, "t", "42").NotifyDrop(context.Background(), testAlert())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotify))
	assert.Contains(t, err.Error(), "chat not found")
	assert.Contains(t, err.Error(), "error 400")

	// ok:false with a 200 status is still a failure
	okFalse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Forbidden"}`))
	}))
	defer okFalse.Close()

	err = NewTelegramNotifier(okFalse.URL, "t", "42").NotifyDrop(context.Background(), testAlert())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotify))

	// a gateway page instead of JSON
	badGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>502 Bad Gateway</html>`))
	}))
	defer badGateway.Close()

	err = NewTelegramNotifier(badGateway.URL, "t", "42").NotifyDrop(context.Background(), testAlert())
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotify))
}

func TestTelegramNotifyCancelled(t *testing.T) {
	var received sentMessage
	server := fakeBotAPI(t, &received)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewTelegramNotifier(server.URL, "t", "42").NotifyDrop(ctx, testAlert())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotify))
	assert.Empty(t, received.Path)
}

func TestTelegramTransportErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	err := NewTelegramNotifier(addr, "secret-token", "42").NotifyDrop(context.Background(), testAlert())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotify))
	assert.NotContains(t, err.Error(), "secret-token")
}
