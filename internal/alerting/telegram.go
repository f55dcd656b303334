package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramOptions 配置 Telegram Bot API 通道。
type TelegramOptions struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
	// Silent 对应 disable_notification。
	Silent bool
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	opts   TelegramOptions
	client *http.Client
	logger zerolog.Logger
}

// APIError 是 Bot API 返回的失败描述。
type APIError struct {
	StatusCode  int
	Description string
	// RetryAfter 仅在 429 时由 Telegram 给出。
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram api %d: %s (retry after %s)", e.StatusCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram api %d: %s", e.StatusCode, e.Description)
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	DisableNotification   bool   `json:"disable_notification,omitempty"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.APIBase == "" {
		opts.APIBase = defaultTelegramAPI
	}
	opts.APIBase = strings.TrimRight(opts.APIBase, "/")

	return &TelegramNotifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.opts.ChatID,
		Text:                  renderMessage(note),
		DisableWebPagePreview: true,
		DisableNotification:   n.opts.Silent,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.opts.APIBase, n.opts.BotToken)
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

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var result botResponse
	decodeErr := json.Unmarshal(raw, &result)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && !result.OK) {
		return toAPIError(resp.StatusCode, result, decodeErr == nil)
	}

	n.logger.Info().Str("mint", note.Mint).
		Str("code", note.Code).
		Int("score", note.Score).
		Msg("告警已发送 (Telegram)")
	return nil
}

func toAPIError(status int, result botResponse, decoded bool) *APIError {
	apiErr := &APIError{StatusCode: status, Description: http.StatusText(status)}
	if !decoded {
		return apiErr
	}
	if result.ErrorCode != 0 {
		apiErr.StatusCode = result.ErrorCode
	}
	if result.Description != "" {
		apiErr.Description = result.Description
	} else if status < 300 {
		apiErr.Description = "ok=false"
	}
	if result.Parameters != nil && result.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(result.Parameters.RetryAfter) * time.Second
	}
	return apiErr
}

var _ Notifier = (*TelegramNotifier)(nil)
