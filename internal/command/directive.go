// Package command recognizes privileged directives embedded in generated
// replies and turns them into protocol actions.
//
// Grammar, one bracketed directive per line, keyword case-insensitive:
//
//	[MODE <#channel> <+|-><letter> <nick> [nick...]]
//	[IGNORE <nick>]
//	[UNIGNORE <nick>]
package command

import (
	"strings"
)

type Kind int

const (
	KindMode Kind = iota + 1
	KindIgnore
	KindUnignore
)

func (k Kind) String() string {
	switch k {
	case KindMode:
		return "mode"
	case KindIgnore:
		return "ignore"
	case KindUnignore:
		return "unignore"
	default:
		return "unknown"
	}
}

// Directive is one parsed instruction. Channel, Mode and Nicks are set for
// KindMode; Target for KindIgnore and KindUnignore.
type Directive struct {
	Kind    Kind
	Channel string
	Mode    string
	Nicks   []string
	Target  string
}

// ParseDirective returns the first well-formed directive in line.
func ParseDirective(line string) (Directive, bool) {
	rest := line
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			return Directive{}, false
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			return Directive{}, false
		}
		if d, ok := parseBody(rest[open+1 : open+end]); ok {
			return d, true
		}
		rest = rest[open+1:]
	}
}

func parseBody(body string) (Directive, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Directive{}, false
	}
	args := fields[1:]
	switch strings.ToUpper(fields[0]) {
	case "MODE":
		if len(args) < 3 || !isChannel(args[0]) || !isModeToken(args[1]) {
			return Directive{}, false
		}
		nicks := make([]string, 0, len(args)-2)
		for _, n := range args[2:] {
			n = strings.Trim(n, ",")
			if n != "" {
				nicks = append(nicks, n)
			}
		}
		if len(nicks) == 0 {
			return Directive{}, false
		}
		return Directive{Kind: KindMode, Channel: args[0], Mode: args[1], Nicks: nicks}, true
	case "IGNORE", "UNIGNORE":
		if len(args) != 1 {
			return Directive{}, false
		}
		kind := KindIgnore
		if strings.EqualFold(fields[0], "UNIGNORE") {
			kind = KindUnignore
		}
		return Directive{Kind: kind, Target: args[0]}, true
	}
	return Directive{}, false
}

func isChannel(s string) bool {
	return len(s) > 1 && (s[0] == '#' || s[0] == '&')
}

func isModeToken(s string) bool {
	if len(s) != 2 || (s[0] != '+' && s[0] != '-') {
		return false
	}
	c := s[1]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
