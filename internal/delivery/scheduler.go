// Package delivery paces reply text onto the wire.
package delivery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/command"
	"github.com/stellarlinkco/ircrelay/internal/config"
)

// Sender writes to whatever connection is currently live.
type Sender interface {
	Privmsg(target, text string) error
	Send(line string) error
}

// Scanner consumes directive lines.
type Scanner interface {
	Scan(line, requester string) (command.Action, bool)
}

type Report struct {
	Lines   int
	Chunks  int
	Actions []command.Action
}

type Options struct {
	Logger *zap.Logger
	// Sleep waits before each outbound chunk. Defaults to a ctx-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0, n]. Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

type Scheduler struct {
	sender     Sender
	scanner    Scanner
	chunkBytes int
	minDelay   time.Duration
	maxDelay   time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func(n int64) int64
	logger     *zap.Logger
}

func NewScheduler(cfg config.DeliveryConfig, sender Sender, scanner Scanner, opts Options) *Scheduler {
	s := &Scheduler{
		sender:     sender,
		scanner:    scanner,
		chunkBytes: cfg.ChunkBytes,
		minDelay:   cfg.Min(),
		maxDelay:   cfg.Max(),
		sleep:      opts.Sleep,
		jitter:     opts.Jitter,
		logger:     opts.Logger,
	}
	if s.chunkBytes <= 0 {
		s.chunkBytes = config.DefaultChunkBytes
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.jitter == nil {
		s.jitter = func(n int64) int64 { return rand.Int64N(n + 1) }
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Deliver sends text to dest line by line. Directive lines become actions;
// every other line is chunked with a randomized pause before each chunk.
// It stops at the first write error.
func (s *Scheduler) Deliver(ctx context.Context, dest, text, requester string) (Report, error) {
	var rep Report
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rep.Lines++

		if s.scanner != nil {
			if act, ok := s.scanner.Scan(line, requester); ok {
				rep.Actions = append(rep.Actions, act)
				if err := s.execute(ctx, dest, act); err != nil {
					return rep, err
				}
				continue
			}
		}

		for _, chunk := range Chunk(line, s.chunkBytes) {
			if err := s.pause(ctx); err != nil {
				return rep, err
			}
			if err := s.sender.Privmsg(dest, chunk); err != nil {
				return rep, fmt.Errorf("deliver to %s: %w", dest, err)
			}
			rep.Chunks++
		}
	}
	s.logger.Debug("delivered", zap.String("dest", dest), zap.Int("lines", rep.Lines), zap.Int("chunks", rep.Chunks))
	return rep, nil
}

func (s *Scheduler) execute(ctx context.Context, dest string, act command.Action) error {
	switch act.Kind {
	case command.ActionMode:
		if err := s.pause(ctx); err != nil {
			return err
		}
		if err := s.sender.Send(act.Line); err != nil {
			return fmt.Errorf("send mode: %w", err)
		}
	case command.ActionRefuse:
		if err := s.pause(ctx); err != nil {
			return err
		}
		if err := s.sender.Privmsg(dest, act.Line); err != nil {
			return fmt.Errorf("send refusal: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) pause(ctx context.Context) error {
	d := s.minDelay
	if spread := int64(s.maxDelay - s.minDelay); spread > 0 {
		d += time.Duration(s.jitter(spread))
	}
	if d <= 0 {
		return ctx.Err()
	}
	return s.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
