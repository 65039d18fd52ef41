package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

// Version is answered to CTCP VERSION queries.
const Version = "ircrelay 0.3.0"

const (
	writeTimeout   = 30 * time.Second
	maxNickRetries = 5
	maxLineBytes   = 16 * 1024
)

var (
	ErrDeadConnection = errors.New("irc: connection dead")
	ErrServerClosed   = errors.New("irc: server closed connection")
	ErrLineTooLong    = errors.New("irc: frame too long")
)

// DialFunc opens the underlying stream. Tests substitute net.Pipe.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Options struct {
	Dial    DialFunc
	Logger  *zap.Logger
	Limiter *rate.Limiter
}

// Conn is one registered session with the server. Reads are expected from a
// single goroutine; writes may come from any goroutine.
type Conn struct {
	cfg     config.IRCConfig
	conn    net.Conn
	reader  *bufio.Reader
	partial string
	logger  *zap.Logger
	limiter *rate.Limiter

	readTimeout time.Duration
	emptyReads  int
	maxEmpty    int

	writeMu sync.Mutex

	mu       sync.RWMutex
	nick     string
	channels map[string]struct{}
}

// Connect dials, registers and joins the configured channels. It makes a
// single attempt; Manager supplies the retry loop.
func Connect(ctx context.Context, cfg config.IRCConfig, opts Options) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := dial(ctx, cfg, opts.Dial)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address(), err)
	}

	if cfg.SSL {
		tc := tls.Client(raw, &tls.Config{
			ServerName:         cfg.Server,
			InsecureSkipVerify: cfg.TLSSkipVerify,
			MinVersion:         tls.VersionTLS12,
		})
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		raw = tc
	}

	c := newConn(raw, cfg, opts.Limiter, logger)
	logger.Info("connected", zap.String("server", cfg.Address()), zap.Bool("tls", cfg.SSL))

	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	if err := c.register(ctx); err != nil {
		_ = c.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return c, nil
}

func newConn(raw net.Conn, cfg config.IRCConfig, limiter *rate.Limiter, logger *zap.Logger) *Conn {
	maxEmpty := cfg.MaxEmptyReads
	if maxEmpty <= 0 {
		maxEmpty = config.DefaultMaxEmptyReads
	}
	return &Conn{
		cfg:      cfg,
		conn:     raw,
		reader:   bufio.NewReader(raw),
		logger:   logger,
		limiter:  limiter,
		maxEmpty: maxEmpty,
		nick:     cfg.Nickname,
		channels: make(map[string]struct{}),
	}
}

func dial(ctx context.Context, cfg config.IRCConfig, fn DialFunc) (net.Conn, error) {
	if fn != nil {
		return fn(ctx, "tcp", cfg.Address())
	}

	base := &net.Dialer{Timeout: cfg.Handshake(), KeepAlive: 30 * time.Second}
	if strings.TrimSpace(cfg.Proxy) == "" {
		return base.DialContext(ctx, "tcp", cfg.Address())
	}

	proxyURL, err := url.Parse(cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	d, err := proxy.FromURL(proxyURL, base)
	if err != nil {
		return nil, fmt.Errorf("proxy dialer: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", cfg.Address())
	}
	return d.Dial("tcp", cfg.Address())
}

// register sends the identity lines without waiting, then reads until the
// server welcomes us, answering pings along the way.
func (c *Conn) register(ctx context.Context) error {
	if c.cfg.Password != "" {
		if err := c.write("PASS "+c.cfg.Password, false); err != nil {
			return err
		}
	}
	if err := c.write(fmt.Sprintf("USER %s 0 * :%s", c.cfg.Ident, c.cfg.Realname), false); err != nil {
		return err
	}
	if err := c.write("NICK "+c.Nick(), false); err != nil {
		return err
	}

	c.readTimeout = c.cfg.Handshake()
	nickRetries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := c.Next()
		if err != nil {
			return fmt.Errorf("registration: %w", err)
		}
		c.logger.Debug("handshake", zap.String("line", line))

		ev := Parse(line, c.Nick())
		switch ev.Kind {
		case EventPing:
			if err := c.Pong(ev.Token); err != nil {
				return err
			}
		case EventNickInUse:
			nickRetries++
			if nickRetries > maxNickRetries {
				return fmt.Errorf("registration: nickname %q unavailable", c.cfg.Nickname)
			}
			nick := c.Nick() + "_"
			c.setNick(nick)
			c.logger.Warn("nickname in use, retrying", zap.String("nick", nick))
			if err := c.write("NICK "+nick, false); err != nil {
				return err
			}
		case EventError:
			return fmt.Errorf("registration: %w: %s", ErrServerClosed, ev.Text)
		case EventWelcome:
			if ev.Target != "" {
				c.setNick(ev.Target)
			}
			c.logger.Info("registered", zap.String("nick", c.Nick()))
			for _, ch := range c.cfg.Channels {
				if err := c.Join(ch); err != nil {
					return err
				}
			}
			c.readTimeout = 0
			if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
				return fmt.Errorf("clear read deadline: %w", err)
			}
			return nil
		}
	}
}

// Next blocks for the next non-blank frame. Blank frames and read timeouts
// count as empty reads; reaching the configured run of them means the
// connection is dead.
func (c *Conn) Next() (string, error) {
	for {
		line, err := c.readLine()
		if err != nil && !isTimeout(err) {
			return "", err
		}
		if err == nil && strings.TrimSpace(line) != "" {
			c.emptyReads = 0
			return line, nil
		}
		c.emptyReads++
		if c.emptyReads >= c.maxEmpty {
			return "", ErrDeadConnection
		}
	}
}

// EmptyReads reports the current run of empty reads.
func (c *Conn) EmptyReads() int {
	return c.emptyReads
}

func (c *Conn) readLine() (string, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.partial += line
		if len(c.partial) > maxLineBytes {
			return "", ErrLineTooLong
		}
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %v", ErrServerClosed, err)
		}
		return "", err
	}
	line = c.partial + line
	c.partial = ""
	return strings.TrimRight(line, "\r\n"), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Send writes one protocol line, throttled by the flood limiter if any.
func (c *Conn) Send(line string) error {
	return c.write(line, true)
}

func (c *Conn) write(line string, throttle bool) error {
	line = sanitize(line)
	if throttle && c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := io.WriteString(c.conn, line+"\r\n"); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func sanitize(line string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', 0:
			return ' '
		}
		return r
	}, line)
}

func (c *Conn) Privmsg(target, text string) error {
	return c.Send(fmt.Sprintf("PRIVMSG %s :%s", target, text))
}

func (c *Conn) Notice(target, text string) error {
	return c.Send(fmt.Sprintf("NOTICE %s :%s", target, text))
}

// Pong answers a keepalive; it is never throttled.
func (c *Conn) Pong(token string) error {
	return c.write("PONG :"+token, false)
}

// Quit announces a clean disconnect; it is never throttled.
func (c *Conn) Quit(reason string) error {
	return c.write("QUIT :"+reason, false)
}

func (c *Conn) Join(channel string) error {
	if err := c.write("JOIN "+channel, false); err != nil {
		return err
	}
	c.mu.Lock()
	c.channels[strings.ToLower(channel)] = struct{}{}
	c.mu.Unlock()
	c.logger.Info("joining channel", zap.String("channel", channel))
	return nil
}

func (c *Conn) Nick() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nick
}

func (c *Conn) setNick(nick string) {
	c.mu.Lock()
	c.nick = nick
	c.mu.Unlock()
}

// Channels lists joined channels in sorted order.
func (c *Conn) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
