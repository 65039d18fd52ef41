// Package responder turns a question plus context into reply text. Every
// backend failure is converted to a short apology so the relay keeps going.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

var (
	ErrMalformedResponse = errors.New("responder: malformed response payload")
	ErrMissingContent    = errors.New("responder: response missing expected fields")
)

const (
	ApologyMalformed  = "Sorry, I encountered an error."
	ApologyMissing    = "Sorry, something went wrong."
	ApologyUnexpected = "Sorry, an unexpected error occurred."
)

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a plain function.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// NewGenerator returns the backend named by cfg.Provider.Type.
func NewGenerator(cfg *config.Config, systemContext string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Type)) {
	case "", "chat":
		return NewChatClient(cfg, systemContext), nil
	case "openai", "anthropic":
		return NewSDKGenerator(cfg, systemContext)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}

// Apology maps a generation error to the text shown in the channel.
func Apology(err error) string {
	switch {
	case errors.Is(err, ErrMalformedResponse):
		return ApologyMalformed
	case errors.Is(err, ErrMissingContent):
		return ApologyMissing
	default:
		return ApologyUnexpected
	}
}

// Responder wraps a Generator with a circuit breaker and the apology
// fallback.
type Responder struct {
	gen     Generator
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func New(gen Generator, timeout time.Duration, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Responder{gen: gen, timeout: timeout, logger: logger}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "generator",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// A payload the backend got wrong is not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrMissingContent)
		},
	})
	return r
}

// Respond always yields text to send. err is the underlying failure, if any,
// for logging and metrics; the text is then an apology.
func (r *Responder) Respond(ctx context.Context, req Request) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := r.cb.Execute(func() (any, error) {
		return r.gen.Generate(ctx, req)
	})
	if err != nil {
		r.logger.Error("generation failed",
			zap.String("user", req.User),
			zap.String("channel", req.Channel),
			zap.Error(err),
		)
		return Apology(err), err
	}
	return out.(string), nil
}

func (r *Responder) State() string {
	return r.cb.State().String()
}
