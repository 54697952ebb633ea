// Package hostlog appends run progress lines to the diagnostic log read by operators.
package hostlog

import (
	"context"
	"log/slog"
	"time"
)

// DefaultChannel labels every line written by the attach run.
const DefaultChannel = "wc-attach-images"

// Entry is one stored log line.
type Entry struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists log lines.
type Store interface {
	Append(ctx context.Context, channel, message string, at time.Time) error
	Recent(ctx context.Context, channel string, limit int) ([]Entry, error)
}

// Logger writes lines to a single channel. A nil Logger or nil store is a no-op.
type Logger struct {
	store   Store
	channel string
	logger  *slog.Logger
	clock   func() time.Time
}

// NewLogger constructs a Logger bound to channel.
func NewLogger(store Store, channel string, logger *slog.Logger) *Logger {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		store:   store,
		channel: channel,
		logger:  logger.With(slog.String("channel", channel)),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Channel returns the label lines are tagged with.
func (l *Logger) Channel() string {
	if l == nil {
		return ""
	}
	return l.channel
}

// Log appends message. Store failures are swallowed.
func (l *Logger) Log(ctx context.Context, message string) {
	if l == nil {
		return
	}
	l.logger.Info(message)
	if l.store == nil {
		return
	}
	if err := l.store.Append(ctx, l.channel, message, l.clock()); err != nil {
		l.logger.Debug("host log append failed", slog.Any("error", err))
	}
}

// Recent returns the newest lines first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	return l.store.Recent(ctx, l.channel, limit)
}
