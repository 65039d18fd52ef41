package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/command"
	"github.com/stellarlinkco/ircrelay/internal/delivery"
	"github.com/stellarlinkco/ircrelay/internal/irc"
	"github.com/stellarlinkco/ircrelay/internal/memory"
	"github.com/stellarlinkco/ircrelay/internal/metrics"
	"github.com/stellarlinkco/ircrelay/internal/responder"
	"github.com/stellarlinkco/ircrelay/internal/session"
)

// User commands handled before logging.
const (
	cmdOptout = "!optout"
	cmdOptin  = "!optin"

	optoutReply = "You are opted out: your messages will no longer be logged."
	optinReply  = "You are opted in: your messages will be logged again."

	quitMessage = "shutting down"
)

// serve keeps one session alive at a time until ctx is done.
func (g *Gateway) serve(ctx context.Context) {
	for {
		conn, err := g.manager.Connect(ctx)
		if err != nil {
			return
		}
		g.setConn(conn)
		g.engine.AddKeyword(conn.Nick())

		err = g.relay(ctx, conn)

		g.setConn(nil)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		g.metrics.Reconnect()
		g.logger.Warn("session lost, reconnecting", zap.Error(err), zap.Duration("delay", g.manager.Delay()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(g.manager.Delay()):
		}
	}
}

// relay reads frames in receipt order until the connection fails. A panic in
// a handler ends the session instead of the process.
func (g *Gateway) relay(ctx context.Context, conn *irc.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("recovered from panic", zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Quit(quitMessage)
		_ = conn.Close()
	})
	defer stop()

	for {
		line, err := conn.Next()
		if err != nil {
			return err
		}
		if err := g.handleLine(ctx, conn, line); err != nil {
			return err
		}
	}
}

func (g *Gateway) handleLine(ctx context.Context, conn *irc.Conn, line string) error {
	ev := irc.Parse(line, conn.Nick())
	g.metrics.Frame(ev.Kind.String())

	switch ev.Kind {
	case irc.EventPing:
		return conn.Pong(ev.Token)
	case irc.EventInvite:
		if g.ignores.Contains(ev.Sender) {
			return nil
		}
		g.handleInvite(conn, ev)
	case irc.EventCTCPVersion:
		if g.ignores.Contains(ev.Sender) {
			return nil
		}
		if err := conn.Notice(ev.Sender, "\x01VERSION "+irc.Version+"\x01"); err != nil {
			g.logger.Warn("version reply failed", zap.Error(err))
		}
	case irc.EventMessage:
		g.handleMessage(ctx, conn, ev)
	case irc.EventError:
		return fmt.Errorf("%w: %s", irc.ErrServerClosed, ev.Text)
	}
	return nil
}

func (g *Gateway) handleInvite(conn *irc.Conn, ev irc.Event) {
	log := g.logger.With(zap.String("from", ev.Sender), zap.String("channel", ev.Target))
	if !g.cfg.Admin.AcceptInvites && !g.dispatcher.Authorized(ev.Sender) {
		log.Info("ignoring invite")
		return
	}
	if err := conn.Join(ev.Target); err != nil {
		log.Warn("join after invite failed", zap.Error(err))
	}
}

func (g *Gateway) handleMessage(ctx context.Context, conn *irc.Conn, ev irc.Event) {
	now := g.now()
	defer g.engine.Sweep(now)

	if g.ignores.Contains(ev.Sender) {
		return
	}
	if g.userCommand(conn, ev) {
		return
	}

	if !ev.Private {
		if _, err := g.logs.Log(ev.Target, ev.Sender, ev.Text); err != nil {
			g.logger.Warn("channel log write failed", zap.Error(err))
		}
	}

	if strings.TrimSpace(ev.Text) == "" {
		return
	}
	triggered := g.engine.ShouldRespond(ev.Sender, ev.Text, now)
	if !triggered && ev.Private && g.cfg.Trigger.AlwaysRespondPrivate {
		g.engine.Activate(ev.Sender, now)
		triggered = true
	}
	if !triggered {
		return
	}

	dest := ev.ReplyTarget()
	req := responder.Request{
		Question: session.ExtractQuestion(ev.Text, conn.Nick()),
		History:  g.conversations.Recent(ev.Sender, g.cfg.Memory.HistoryLimit),
		User:     ev.Sender,
		Channel:  dest,
	}
	if !ev.Private {
		req.Logs = g.logs.ForChannel(ev.Target, g.cfg.Memory.ContextLogs)
	}

	log := g.logger.With(zap.String("user", ev.Sender), zap.String("dest", dest))
	log.Info("answering", zap.String("question", truncate(req.Question, 80)))

	answer, genErr := g.responder.Respond(ctx, req)
	if genErr != nil {
		g.metrics.GeneratorError()
	}

	rep, err := g.scheduler.Deliver(ctx, dest, answer, ev.Sender)
	g.recordDelivery(rep)
	if err != nil {
		log.Warn("delivery incomplete", zap.Error(err), zap.Int("chunks", rep.Chunks))
	}

	if genErr != nil {
		return
	}
	if err := g.conversations.Append(ev.Sender, memory.RoleUser, req.Question); err != nil {
		log.Warn("memory write failed", zap.Error(err))
		return
	}
	if err := g.conversations.Append(ev.Sender, memory.RoleAssistant, answer); err != nil {
		log.Warn("memory write failed", zap.Error(err))
	}
}

// userCommand handles !optout and !optin. It reports whether the message was
// consumed.
func (g *Gateway) userCommand(conn *irc.Conn, ev irc.Event) bool {
	var (
		reply string
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case cmdOptout:
		_, err = g.optouts.Add(ev.Sender)
		reply = optoutReply
	case cmdOptin:
		_, err = g.optouts.Remove(ev.Sender)
		reply = optinReply
	default:
		return false
	}
	if err != nil {
		g.logger.Error("optout registry update failed", zap.String("user", ev.Sender), zap.Error(err))
		return true
	}
	if err := conn.Notice(ev.Sender, reply); err != nil {
		g.logger.Warn("optout reply failed", zap.Error(err))
	}
	return true
}

func (g *Gateway) recordDelivery(rep delivery.Report) {
	if rep.Chunks > 0 {
		g.metrics.Reply(rep.Chunks)
	}
	for _, act := range rep.Actions {
		result := metrics.ResultApplied
		switch {
		case act.Kind == command.ActionRefuse:
			result = metrics.ResultRefused
		case act.Err != nil:
			result = metrics.ResultFailed
		}
		g.metrics.Directive(act.Directive.Kind.String(), result)
	}
}
