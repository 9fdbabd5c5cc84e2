package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TelegramOptions 描述 Telegram 渠道参数。
type TelegramOptions struct {
	BotToken      string
	DefaultChatID string
	APIBase       string
	Timeout       time.Duration
	Silent        bool
}

// TelegramNotifier 通过 Telegram Bot API 向频道或群组发帖。
type TelegramNotifier struct {
	opts    TelegramOptions
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.APIBase, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		opts:    opts,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本；address 为空时使用默认 chat id。
func (n *TelegramNotifier) Notify(ctx context.Context, address string, note Notification) error {
	chatID := address
	if chatID == "" {
		chatID = n.opts.DefaultChatID
	}
	if chatID == "" {
		return fmt.Errorf("telegram chat id not configured")
	}
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     renderMessage(note),
		"disable_web_page_preview": true,
		"disable_notification":     n.opts.Silent,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("market", note.MarketID).
		Str("offer", note.Offer.Offer.ShortID()).
		Str("chat_id", chatID).
		Msg("通知已发送 (Telegram)")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
