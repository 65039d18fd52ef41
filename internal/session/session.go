// Package session decides which chat messages the relay answers.
//
// A user enters a short continuation window by saying a trigger keyword.
// While the window is open every message from that user triggers and keeps
// it open; once it lapses the user must use a keyword again.
package session

import (
	"strings"
	"sync"
	"time"
)

// Window tracks the last triggering activity per user.
type Window struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

func NewWindow(ttl time.Duration) *Window {
	return &Window{ttl: ttl, items: make(map[string]time.Time)}
}

func (w *Window) TTL() time.Duration {
	return w.ttl
}

// Active reports whether user triggered less than the TTL before now.
func (w *Window) Active(user string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.items[key(user)]
	if !ok {
		return false
	}
	if now.Sub(last) >= w.ttl {
		delete(w.items, key(user))
		return false
	}
	return true
}

func (w *Window) Touch(user string, now time.Time) {
	w.mu.Lock()
	w.items[key(user)] = now
	w.mu.Unlock()
}

// Sweep evicts every expired entry and returns how many were removed.
func (w *Window) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for user, last := range w.items {
		if now.Sub(last) >= w.ttl {
			delete(w.items, user)
			removed++
		}
	}
	return removed
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

func key(user string) string {
	return strings.ToLower(user)
}

// Engine combines the keyword list with the session window.
type Engine struct {
	mu       sync.RWMutex
	keywords []string
	window   *Window
}

func NewEngine(keywords []string, ttl time.Duration) *Engine {
	e := &Engine{window: NewWindow(ttl)}
	e.SetKeywords(keywords)
	return e
}

// SetKeywords replaces the keyword list. Matching is on lowercased text.
func (e *Engine) SetKeywords(keywords []string) {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	e.mu.Lock()
	e.keywords = out
	e.mu.Unlock()
}

// AddKeyword appends one keyword, typically the negotiated nickname.
func (e *Engine) AddKeyword(keyword string) {
	e.mu.RLock()
	next := append(append([]string(nil), e.keywords...), keyword)
	e.mu.RUnlock()
	e.SetKeywords(next)
}

func (e *Engine) Keywords() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.keywords...)
}

// Matches reports whether message contains any keyword.
func (e *Engine) Matches(message string) bool {
	lower := strings.ToLower(message)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, k := range e.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// ShouldRespond reports whether the message triggers a reply. A triggering
// message refreshes the user's window to now.
func (e *Engine) ShouldRespond(user, message string, now time.Time) bool {
	if !e.Matches(message) && !e.window.Active(user, now) {
		return false
	}
	e.window.Touch(user, now)
	return true
}

// Activate opens or refreshes the window without a keyword.
func (e *Engine) Activate(user string, now time.Time) {
	e.window.Touch(user, now)
}

func (e *Engine) Sweep(now time.Time) int {
	return e.window.Sweep(now)
}

func (e *Engine) Window() *Window {
	return e.window
}

// ExtractQuestion drops everything up to and including the first mention of
// nick, along with address punctuation such as "grokbot: ". When nothing
// follows the nick the whole message is the question.
func ExtractQuestion(message, nick string) string {
	trimmed := strings.TrimSpace(message)
	if nick == "" {
		return trimmed
	}
	idx := strings.Index(strings.ToLower(trimmed), strings.ToLower(nick))
	if idx < 0 {
		return trimmed
	}
	rest := strings.TrimLeft(trimmed[idx+len(nick):], ":,;> \t")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return trimmed
	}
	return rest
}
