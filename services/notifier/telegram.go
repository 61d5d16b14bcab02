package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sjsage522/pricewatch/internal/product"
	"sjsage522/pricewatch/logger"
	apperrors "sjsage522/pricewatch/pkg/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier sends messages to one chat with the Bot API sendMessage method
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	client *http.Client
	token  string
	chatID string
	log    *logger.Logger
}

// NewTelegramNotifier creates a notifier for one chat. The bot is not asked
// for its identity up front, the first message is the first request.
func NewTelegramNotifier(apiBase, token, chatID string) *TelegramNotifier {
	client := &http.Client{Timeout: 10 * time.Second}
	bot := &tgbotapi.BotAPI{Token: token, Client: client}
	bot.SetAPIEndpoint(strings.TrimRight(apiBase, "/") + "/bot%s/%s")

	return &TelegramNotifier{
		bot:    bot,
		client: client,
		token:  token,
		chatID: chatID,
		log:    logger.ForNotifier(),
	}
}

// NotifyDrop sends a price drop message
func (n *TelegramNotifier) NotifyDrop(ctx context.Context, alert DropAlert) error {
	return n.send(ctx, alert.Product.ID, FormatDrop(alert))
}

// NotifyTracking announces the first observation of a product
func (n *TelegramNotifier) NotifyTracking(ctx context.Context, p product.Product, first product.Observation) error {
	return n.send(ctx, p.ID, FormatTracking(p, first))
}

func (n *TelegramNotifier) send(ctx context.Context, productID, text string) error {
	msg := tgbotapi.MessageConfig{
		Text:                  text,
		ParseMode:             tgbotapi.ModeHTML,
		DisableWebPagePreview: true,
	}
	if id, err := strconv.ParseInt(n.chatID, 10, 64); err == nil {
		msg.ChatID = id
	} else {
		msg.ChannelUsername = n.chatID
	}

	// the library builds requests without a context
	bot := *n.bot
	bot.Client = contextClient{ctx: ctx, client: n.client}

	if _, err := bot.Request(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return apperrors.NewNotify(productID, fmt.Sprintf("telegram returned error %d", apiErr.Code), apiErr)
		}
		// transport errors carry the request URL and with it the bot token
		return apperrors.NewNotify(productID, "telegram request failed", redactToken(err, n.token))
	}

	n.log.Debug().Str("product", productID).Msg("telegram message sent")
	return nil
}

type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
