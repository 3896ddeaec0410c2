package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"landpub/internal/log"

	"go.uber.org/zap"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramPublisher posts listings to a channel through the Bot API. Listings
// with an image go out as a photo with caption, the rest as plain messages.
type TelegramPublisher struct {
	botToken string
	chatID   string
	client   *http.Client
	logger   *log.Logger
}

func NewTelegramPublisher(botToken, chatID string, timeout time.Duration, logger *log.Logger) *TelegramPublisher {
	return &TelegramPublisher{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (p *TelegramPublisher) Platform() string {
	return "telegram"
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      *struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (p *TelegramPublisher) Publish(ctx context.Context, req Request) (*Result, error) {
	var method string
	params := url.Values{"chat_id": {p.chatID}}
	if req.ImageURL != "" {
		method = "sendPhoto"
		params.Set("photo", req.ImageURL)
		params.Set("caption", req.Message())
	} else {
		method = "sendMessage"
		params.Set("text", req.Message())
	}

	var out telegramResponse
	if err := p.call(ctx, method, params, &out); err != nil {
		return nil, err
	}
	if out.Result == nil {
		return nil, &Error{Kind: KindUnknown, Message: method + " returned no message id"}
	}
	msgID := strconv.FormatInt(out.Result.MessageID, 10)
	return &Result{
		ExternalPostID: msgID,
		ExternalURL:    fmt.Sprintf("https://t.me/%s/%s", strings.TrimPrefix(p.chatID, "@"), msgID),
	}, nil
}

func (p *TelegramPublisher) DeletePost(ctx context.Context, externalPostID string) error {
	params := url.Values{"chat_id": {p.chatID}, "message_id": {externalPostID}}
	var out telegramResponse
	return p.call(ctx, "deleteMessage", params, &out)
}

func (p *TelegramPublisher) call(ctx context.Context, method string, params url.Values, out *telegramResponse) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", telegramAPIBase, p.botToken, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return &Error{Kind: KindUnknown, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("%s: http %d", method, resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUnknown, Message: fmt.Sprintf("decode %s response: %s", method, err)}
	}
	if !out.OK {
		apiErr := &Error{
			Kind:    mapTelegramError(out.ErrorCode),
			Code:    out.ErrorCode,
			Message: out.Description,
		}
		p.logger.Warn("Telegram API error", zap.String("method", method),
			zap.Int("code", apiErr.Code), zap.String("msg", apiErr.Message))
		return apiErr
	}
	return nil
}

func mapTelegramError(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusBadRequest:
		return KindInvalid
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindUnknown
	}
}
