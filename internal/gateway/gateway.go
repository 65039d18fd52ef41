// Package gateway owns the relay state and drives the receive loop.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/ircrelay/internal/command"
	"github.com/stellarlinkco/ircrelay/internal/config"
	"github.com/stellarlinkco/ircrelay/internal/cron"
	"github.com/stellarlinkco/ircrelay/internal/delivery"
	"github.com/stellarlinkco/ircrelay/internal/irc"
	"github.com/stellarlinkco/ircrelay/internal/memory"
	"github.com/stellarlinkco/ircrelay/internal/metrics"
	"github.com/stellarlinkco/ircrelay/internal/persona"
	"github.com/stellarlinkco/ircrelay/internal/responder"
	"github.com/stellarlinkco/ircrelay/internal/session"
)

var errNotConnected = errors.New("gateway: not connected")

// Options for creating a Gateway. Zero values pick the production defaults.
type Options struct {
	Logger *zap.Logger
	// Dial replaces the TCP dialer (tests use net.Pipe).
	Dial irc.DialFunc
	// Generator replaces the backend built from cfg.Provider.
	Generator responder.Generator
	// SignalChan replaces SIGINT/SIGTERM handling in Run.
	SignalChan chan os.Signal
	// Sleep replaces the delivery pacing timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	store         memory.Persister
	conversations *memory.ConversationStore
	logs          *memory.LogStore
	optouts       *memory.Registry
	ignores       *memory.Registry

	persona    persona.Persona
	engine     *session.Engine
	dispatcher *command.Dispatcher
	scheduler  *delivery.Scheduler
	responder  *responder.Responder
	manager    *irc.Manager
	cron       *cron.Service
	metrics    *metrics.Collector
	httpSrv    *metrics.Server

	signalChan chan os.Signal

	mu   sync.RWMutex
	conn *irc.Conn
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions opens the stores and wires every component. Nothing touches
// the network until Run.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		now:        opts.Now,
		signalChan: opts.SignalChan,
		metrics:    metrics.NewCollector(),
	}
	if g.now == nil {
		g.now = time.Now
	}

	store, err := memory.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = store
	if err := g.openStores(); err != nil {
		_ = store.Close()
		return nil, err
	}

	p, err := persona.Load(cfg.Agent.Workspace, cfg.Agent.Context, logger.Named("persona"))
	if err != nil {
		g.logger.Warn("persona load failed, using configured context", zap.Error(err))
	}
	g.persona = p

	g.engine = session.NewEngine(cfg.Trigger.Keywords, cfg.Trigger.Session())
	for _, k := range p.Keywords {
		g.engine.AddKeyword(k)
	}
	g.engine.AddKeyword(cfg.IRC.Nickname)

	gen := opts.Generator
	if gen == nil {
		gen, err = responder.NewGenerator(cfg, p.Context)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create generator: %w", err)
		}
	}
	g.responder = responder.New(gen, cfg.Agent.Timeout(), logger.Named("responder"))

	g.dispatcher = command.NewDispatcher(cfg.Admin, g.ignores, logger.Named("command"))
	g.scheduler = delivery.NewScheduler(cfg.Delivery, liveSender{g}, g.dispatcher, delivery.Options{
		Logger: logger.Named("delivery"),
		Sleep:  opts.Sleep,
	})

	ircOpts := irc.Options{Dial: opts.Dial, Logger: logger.Named("irc")}
	if lps := cfg.Delivery.LinesPerSecond; lps > 0 {
		ircOpts.Limiter = rate.NewLimiter(rate.Limit(lps), 4)
	}
	g.manager = irc.NewManager(cfg.IRC, ircOpts)
	g.manager.OnFailure = func(error) { g.metrics.Reconnect() }

	cronStore, err := memory.NewFilePersister(filepath.Join(cfg.DataDir(), "cron"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create cron store: %w", err)
	}
	g.cron = cron.NewService(cronStore, logger.Named("cron"))
	g.cron.OnJob = g.runJob

	if cfg.Gateway.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		g.httpSrv = metrics.NewServer(addr, metrics.NewRouter(g.metrics, g.health), logger.Named("metrics"))
	}

	return g, nil
}

func (g *Gateway) openStores() error {
	var err error
	if g.optouts, err = memory.NewRegistry(g.store, memory.DocOptouts); err != nil {
		return fmt.Errorf("load optout registry: %w", err)
	}
	if g.ignores, err = memory.NewRegistry(g.store, memory.DocIgnores); err != nil {
		return fmt.Errorf("load ignore registry: %w", err)
	}
	if g.conversations, err = memory.NewConversationStore(g.store); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	if g.logs, err = memory.NewLogStore(g.store, g.optouts, g.cfg.Memory.LogLimit, g.cfg.Memory.MaxAge()); err != nil {
		return fmt.Errorf("load channel logs: %w", err)
	}
	return nil
}

// Run connects and relays until a signal arrives or ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start failed", zap.Error(err))
	}
	if err := g.ensureInternalJobs(); err != nil {
		g.logger.Warn("ensure internal jobs failed", zap.Error(err))
	}

	if fp, ok := g.store.(*memory.FilePersister); ok && g.cfg.Memory.WatchRegistries {
		if err := memory.WatchRegistries(ctx, fp, g.logger.Named("watch"), g.ignores, g.optouts); err != nil {
			g.logger.Warn("registry watch disabled", zap.Error(err))
		}
	}

	if g.httpSrv != nil {
		if _, err := g.httpSrv.Start(); err != nil {
			g.logger.Warn("metrics server disabled", zap.Error(err))
			g.httpSrv = nil
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.serve(ctx)
	}()

	g.logger.Info("running",
		zap.String("server", g.cfg.IRC.Address()),
		zap.Strings("keywords", g.engine.Keywords()),
	)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	cancel()
	<-done
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if g.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.httpSrv.Shutdown(ctx); err != nil {
			g.logger.Warn("metrics server shutdown", zap.Error(err))
		}
		cancel()
	}
	if conn := g.setConn(nil); conn != nil {
		_ = conn.Close()
	}
	if err := g.store.Close(); err != nil {
		g.logger.Warn("close store", zap.Error(err))
	}
	g.logger.Info("shutdown complete")
	return nil
}

// setConn swaps the live connection and returns the previous one.
func (g *Gateway) setConn(c *irc.Conn) *irc.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.conn
	g.conn = c
	g.metrics.SetConnected(c != nil)
	return prev
}

func (g *Gateway) currentConn() *irc.Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn
}

func (g *Gateway) health() metrics.Health {
	h := metrics.Health{Breaker: g.responder.State()}
	if c := g.currentConn(); c != nil {
		h.Connected = true
		h.Nick = c.Nick()
		h.Channels = c.Channels()
	}
	return h
}

// liveSender writes to whichever connection is current, so scheduled jobs
// survive reconnects.
type liveSender struct{ g *Gateway }

func (s liveSender) Privmsg(target, text string) error {
	c := s.g.currentConn()
	if c == nil {
		return errNotConnected
	}
	return c.Privmsg(target, text)
}

func (s liveSender) Send(line string) error {
	c := s.g.currentConn()
	if c == nil {
		return errNotConnected
	}
	return c.Send(line)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
