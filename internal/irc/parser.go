package irc

import "strings"

// CTCPVersion is the exact body of a CTCP VERSION query.
const CTCPVersion = "\x01VERSION\x01"

// Message is one tokenized protocol frame.
type Message struct {
	Prefix   string
	Command  string
	Params   []string
	Trailing string
	// HasTrailing distinguishes "PRIVMSG #c :" (empty body) from no body at all.
	HasTrailing bool
}

// Nick returns the nickname part of the prefix ("nick!user@host" -> "nick").
func (m Message) Nick() string {
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

// Last returns the trailing parameter if present, otherwise the last middle one.
func (m Message) Last() string {
	if m.HasTrailing {
		return m.Trailing
	}
	if len(m.Params) > 0 {
		return m.Params[len(m.Params)-1]
	}
	return ""
}

// ParseLine tokenizes a raw frame. Only the first " :" starts the trailing
// parameter, so message bodies containing ':' survive intact.
func ParseLine(raw string) (Message, bool) {
	line := strings.TrimRight(raw, "\r\n")
	var m Message
	if line == "" {
		return m, false
	}

	if line[0] == ':' {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return m, false
		}
		m.Prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if i := strings.Index(line, " :"); i >= 0 {
		m.Trailing = line[i+2:]
		m.HasTrailing = true
		line = line[:i]
	} else if strings.HasPrefix(line, ":") {
		m.Trailing = line[1:]
		m.HasTrailing = true
		line = ""
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return m, false
	}
	m.Command = strings.ToUpper(fields[0])
	m.Params = fields[1:]
	return m, true
}

type EventKind int

const (
	EventOther EventKind = iota
	EventPing
	EventInvite
	EventMessage
	EventCTCPVersion
	EventWelcome
	EventNickInUse
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPing:
		return "ping"
	case EventInvite:
		return "invite"
	case EventMessage:
		return "message"
	case EventCTCPVersion:
		return "ctcp_version"
	case EventWelcome:
		return "welcome"
	case EventNickInUse:
		return "nick_in_use"
	case EventError:
		return "error"
	default:
		return "other"
	}
}

// Event is a classified frame.
//
//	Ping:        Token
//	Invite:      Sender invited us to Target
//	Message:     Sender said Text to Target (Private when Target is us)
//	CTCPVersion: Sender asked for our version
//	Welcome:     Target is the nickname the server registered us under
//	Error:       Text is the server's reason
type Event struct {
	Kind    EventKind
	Token   string
	Sender  string
	Target  string
	Text    string
	Private bool
	Raw     string
}

// ReplyTarget is where an answer to this event goes: the sender for private
// messages, the channel otherwise.
func (e Event) ReplyTarget() string {
	if e.Private {
		return e.Sender
	}
	return e.Target
}

// Parse classifies raw against the bot's current nickname.
func Parse(raw, selfNick string) Event {
	ev := Event{Kind: EventOther, Raw: strings.TrimRight(raw, "\r\n")}
	m, ok := ParseLine(raw)
	if !ok {
		return ev
	}

	switch m.Command {
	case "PING":
		ev.Kind = EventPing
		ev.Token = m.Last()
	case "INVITE":
		target := m.Last()
		if m.Prefix == "" || target == "" {
			return ev
		}
		ev.Kind = EventInvite
		ev.Sender = m.Nick()
		ev.Target = target
	case "PRIVMSG":
		if m.Prefix == "" || len(m.Params) == 0 || !m.HasTrailing {
			return ev
		}
		ev.Sender = m.Nick()
		ev.Target = m.Params[0]
		ev.Text = m.Trailing
		ev.Private = selfNick != "" && strings.EqualFold(ev.Target, selfNick)
		if ev.Text == CTCPVersion {
			ev.Kind = EventCTCPVersion
		} else {
			ev.Kind = EventMessage
		}
	case "001":
		ev.Kind = EventWelcome
		if len(m.Params) > 0 {
			ev.Target = m.Params[0]
		}
		ev.Text = m.Trailing
	case "433":
		ev.Kind = EventNickInUse
		if len(m.Params) > 1 {
			ev.Target = m.Params[1]
		}
	case "ERROR":
		ev.Kind = EventError
		ev.Text = m.Last()
	}
	return ev
}
