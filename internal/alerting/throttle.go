package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Throttled 为每个 mint 施加冷却期，冷却期内的重复告警被丢弃。
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottled 包装一个 Notifier。cooldown <= 0 时不做限制。
func NewThrottled(next Notifier, cooldown time.Duration, now func() time.Time, logger zerolog.Logger) *Throttled {
	if now == nil {
		now = time.Now
	}
	return &Throttled{
		next:     next,
		cooldown: cooldown,
		now:      now,
		logger:   logger.With().Str("component", "alert_throttle").Logger(),
		last:     make(map[string]time.Time),
	}
}

// Notify 转发告警；冷却期内返回 nil 且不发送。
func (t *Throttled) Notify(ctx context.Context, note Notification) error {
	if !t.allow(note.Mint) {
		t.logger.Debug().Str("mint", note.Mint).Msg("冷却期内，跳过告警")
		return nil
	}
	if err := t.next.Notify(ctx, note); err != nil {
		t.forget(note.Mint)
		return err
	}
	return nil
}

func (t *Throttled) allow(key string) bool {
	if t.cooldown <= 0 {
		return true
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.last[key] = now
	return true
}

// forget 让发送失败的告警可以立即重试。
func (t *Throttled) forget(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}

var _ Notifier = (*Throttled)(nil)
