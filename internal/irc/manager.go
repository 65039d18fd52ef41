package irc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

// Manager owns the connect-until-it-works loop. There is no attempt limit:
// Connect returns only with a live session or when ctx is cancelled.
type Manager struct {
	cfg    config.IRCConfig
	opts   Options
	logger *zap.Logger

	// OnFailure is called after every failed attempt (metrics hook).
	OnFailure func(err error)
}

func NewManager(cfg config.IRCConfig, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Manager{cfg: cfg, opts: opts, logger: logger}
}

func (m *Manager) Connect(ctx context.Context) (*Conn, error) {
	attempt := 0
	op := func() (*Conn, error) {
		attempt++
		c, err := Connect(ctx, m.cfg, m.opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			if m.OnFailure != nil {
				m.OnFailure(err)
			}
			return nil, err
		}
		if attempt > 1 {
			m.logger.Info("connection restored", zap.Int("attempts", attempt))
		}
		return c, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.Reconnect())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("connection failed", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
}

// Delay is the pause between a lost session and the next connect attempt.
func (m *Manager) Delay() time.Duration {
	return m.cfg.Reconnect()
}
