package alerting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"riskgate/internal/metrics"
)

// Notification 封装被拦截交易意图的告警上下文。
type Notification struct {
	Mint     string
	Wallet   string
	Chain    string
	Code     string
	Message  string
	Score    int
	Label    string
	Reasons  []string
	Channels []string
	At       time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Channel 是一个具名的告警通道。
type Channel struct {
	Name     string
	Notifier Notifier
}

// Fanout 将告警分发到多个通道；Notification.Channels 非空时只投递到列出的通道。
type Fanout struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewFanout 构造多通道分发器。
func NewFanout(logger zerolog.Logger, channels ...Channel) *Fanout {
	return &Fanout{channels: channels, logger: logger.With().Str("component", "alert_fanout").Logger()}
}

// Names 返回已注册的通道名。
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.channels))
	for _, ch := range f.channels {
		names = append(names, ch.Name)
	}
	return names
}

// Notify 依次投递，所有通道的错误合并返回。
func (f *Fanout) Notify(ctx context.Context, note Notification) error {
	var errs []error
	delivered := 0
	for _, ch := range f.channels {
		if len(note.Channels) > 0 && !slices.Contains(note.Channels, ch.Name) {
			continue
		}
		if err := ch.Notifier.Notify(ctx, note); err != nil {
			metrics.AlertsSent.WithLabelValues(ch.Name, "error").Inc()
			f.logger.Warn().Err(err).Str("channel", ch.Name).Str("mint", note.Mint).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		metrics.AlertsSent.WithLabelValues(ch.Name, "ok").Inc()
		delivered++
	}
	if delivered == 0 && len(errs) == 0 {
		return fmt.Errorf("no alert channel matches %v", note.Channels)
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[riskgate] trade intent blocked\n")
	builder.WriteString(fmt.Sprintf("Mint: %s\n", note.Mint))
	if note.Wallet != "" {
		builder.WriteString(fmt.Sprintf("Wallet: %s\n", note.Wallet))
	}
	builder.WriteString(fmt.Sprintf("Reason: %s (%s)\n", note.Message, note.Code))
	builder.WriteString(fmt.Sprintf("Risk: %d %s\n", note.Score, note.Label))
	for _, reason := range note.Reasons {
		builder.WriteString(fmt.Sprintf("- %s\n", reason))
	}
	at := note.At
	if at.IsZero() {
		at = time.Now()
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC", at.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*Fanout)(nil)
