package command

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stellarlinkco/ircrelay/internal/config"
)

type ActionKind int

const (
	ActionMode ActionKind = iota + 1
	ActionIgnore
	ActionUnignore
	ActionRefuse
)

func (k ActionKind) String() string {
	switch k {
	case ActionMode:
		return "mode"
	case ActionIgnore:
		return "ignore"
	case ActionUnignore:
		return "unignore"
	case ActionRefuse:
		return "refuse"
	default:
		return "unknown"
	}
}

// Action is the outcome of a consumed directive. Line is the raw protocol
// line for ActionMode and the chat text for ActionRefuse.
type Action struct {
	Kind      ActionKind
	Line      string
	Target    string
	Directive Directive
	Err       error
}

// IgnoreRegistry is the part of the ignore list the dispatcher mutates.
type IgnoreRegistry interface {
	Add(user string) (bool, error)
	Remove(user string) (bool, error)
}

// Dispatcher authorizes directives by the nickname that asked for the reply.
// Nicknames are not verified with services, so anyone able to take an
// authorized nick passes this check.
type Dispatcher struct {
	authorized map[string]struct{}
	allowed    map[string]struct{}
	refusal    string
	ignores    IgnoreRegistry
	logger     *zap.Logger
}

func NewDispatcher(cfg config.AdminConfig, ignores IgnoreRegistry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		authorized: make(map[string]struct{}, len(cfg.AuthorizedUsers)),
		allowed:    make(map[string]struct{}, len(cfg.AllowedModes)),
		refusal:    cfg.RefusalMessage,
		ignores:    ignores,
		logger:     logger,
	}
	if strings.TrimSpace(d.refusal) == "" {
		d.refusal = config.DefaultRefusalMessage
	}
	for _, u := range cfg.AuthorizedUsers {
		if u = strings.ToLower(strings.TrimSpace(u)); u != "" {
			d.authorized[u] = struct{}{}
		}
	}
	for _, m := range cfg.AllowedModes {
		if m = strings.TrimSpace(m); m != "" {
			d.allowed[m] = struct{}{}
		}
	}
	return d
}

func (d *Dispatcher) Authorized(user string) bool {
	_, ok := d.authorized[strings.ToLower(strings.TrimSpace(user))]
	return ok
}

func (d *Dispatcher) ModeAllowed(token string) bool {
	_, ok := d.allowed[token]
	return ok
}

// Scan consumes line when it carries a directive. ok is false for ordinary
// chat lines, which the caller sends as-is.
func (d *Dispatcher) Scan(line, requester string) (Action, bool) {
	dir, ok := ParseDirective(line)
	if !ok {
		return Action{}, false
	}
	log := d.logger.With(zap.String("directive", dir.Kind.String()), zap.String("requester", requester))

	if !d.Authorized(requester) {
		log.Warn("directive refused: requester not authorized")
		return d.refuse(dir), true
	}

	switch dir.Kind {
	case KindMode:
		if !d.ModeAllowed(dir.Mode) {
			log.Warn("directive refused: mode not allowed", zap.String("mode", dir.Mode))
			return d.refuse(dir), true
		}
		modeLine := fmt.Sprintf("MODE %s %c%s %s",
			dir.Channel,
			dir.Mode[0],
			strings.Repeat(dir.Mode[1:], len(dir.Nicks)),
			strings.Join(dir.Nicks, " "),
		)
		log.Info("mode change", zap.String("line", modeLine))
		return Action{Kind: ActionMode, Line: modeLine, Target: dir.Channel, Directive: dir}, true

	case KindIgnore, KindUnignore:
		act := Action{Kind: ActionIgnore, Target: dir.Target, Directive: dir}
		var err error
		if dir.Kind == KindIgnore {
			_, err = d.ignores.Add(dir.Target)
		} else {
			act.Kind = ActionUnignore
			_, err = d.ignores.Remove(dir.Target)
		}
		if err != nil {
			log.Error("ignore registry update failed", zap.String("target", dir.Target), zap.Error(err))
			act.Err = err
		} else {
			log.Info("ignore registry updated", zap.String("target", dir.Target))
		}
		return act, true
	}
	return d.refuse(dir), true
}

func (d *Dispatcher) refuse(dir Directive) Action {
	return Action{Kind: ActionRefuse, Line: d.refusal, Directive: dir}
}
