package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/ircrelay/internal/command"
	"github.com/stellarlinkco/ircrelay/internal/config"
)

type recordedLine struct {
	raw    bool
	target string
	text   string
}

type fakeSender struct {
	lines   []recordedLine
	failOn  int
	written int
}

func (f *fakeSender) Privmsg(target, text string) error {
	return f.record(recordedLine{target: target, text: text})
}

func (f *fakeSender) Send(line string) error {
	return f.record(recordedLine{raw: true, text: line})
}

func (f *fakeSender) record(l recordedLine) error {
	f.written++
	if f.failOn > 0 && f.written == f.failOn {
		return errors.New("broken pipe")
	}
	f.lines = append(f.lines, l)
	return nil
}

type fakeScanner struct{}

func (fakeScanner) Scan(line, requester string) (command.Action, bool) {
	switch {
	case strings.HasPrefix(line, "[MODE"):
		return command.Action{Kind: command.ActionMode, Line: "MODE #c +o x"}, true
	case strings.HasPrefix(line, "[DENY"):
		return command.Action{Kind: command.ActionRefuse, Line: "refused"}, true
	case strings.HasPrefix(line, "[IGNORE"):
		return command.Action{Kind: command.ActionIgnore, Target: "x"}, true
	}
	return command.Action{}, false
}

func newTestScheduler(sender Sender, sleeps *[]time.Duration) *Scheduler {
	cfg := config.DeliveryConfig{ChunkBytes: 400, MinDelay: "100ms", MaxDelay: "300ms"}
	return NewScheduler(cfg, sender, fakeScanner{}, Options{
		Sleep: func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
		Jitter: func(n int64) int64 { return n / 2 },
	})
}

func TestChunk_900Bytes(t *testing.T) {
	line := strings.Repeat("a", 300) + strings.Repeat("b", 300) + strings.Repeat("c", 300)
	chunks := Chunk(line, 400)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 400 {
			t.Errorf("chunk %d is %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != line {
		t.Error("chunks are not the line in order")
	}
}

func TestChunk_UTF8Boundaries(t *testing.T) {
	line := strings.Repeat("é", 10) // 2 bytes each
	chunks := Chunk(line, 5)
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d splits a rune: %q", i, c)
		}
		if len(c) > 5 {
			t.Errorf("chunk %d is %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != line {
		t.Error("content lost")
	}
}

func TestChunk_Edges(t *testing.T) {
	if Chunk("", 10) != nil {
		t.Error("empty line should produce no chunks")
	}
	if got := Chunk("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %v", got)
	}
	if got := Chunk("€", 1); len(got) != 1 || got[0] != "€" {
		t.Errorf("wide rune = %q", got)
	}
}

func TestScheduler_DeliverChunksWithDelays(t *testing.T) {
	sender := &fakeSender{}
	var sleeps []time.Duration
	s := newTestScheduler(sender, &sleeps)

	text := strings.Repeat("x", 900) + "\n\nsecond line"
	rep, err := s.Deliver(context.Background(), "#go", text, "alice")
	if err != nil {
		t.Fatalf("Deliver error: %v", err)
	}
	if rep.Lines != 2 || rep.Chunks != 4 {
		t.Errorf("report = %+v", rep)
	}
	if len(sender.lines) != 4 || sender.lines[3].text != "second line" || sender.lines[0].target != "#go" {
		t.Errorf("sent = %+v", sender.lines)
	}
	if len(sleeps) != 4 {
		t.Fatalf("sleeps = %d, want one per chunk", len(sleeps))
	}
	for _, d := range sleeps {
		if d != 200*time.Millisecond {
			t.Errorf("delay = %v, want min + jitter", d)
		}
	}
}

func TestScheduler_DirectivesConsumeLine(t *testing.T) {
	sender := &fakeSender{}
	var sleeps []time.Duration
	s := newTestScheduler(sender, &sleeps)

	text := "Done.\n[MODE #c +o x]\n[DENY]\n[IGNORE x]"
	rep, err := s.Deliver(context.Background(), "#c", text, "root")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Actions) != 3 {
		t.Fatalf("actions = %d", len(rep.Actions))
	}
	want := []recordedLine{
		{target: "#c", text: "Done."},
		{raw: true, text: "MODE #c +o x"},
		{target: "#c", text: "refused"},
	}
	if len(sender.lines) != len(want) {
		t.Fatalf("sent = %+v", sender.lines)
	}
	for i, w := range want {
		if sender.lines[i] != w {
			t.Errorf("line %d = %+v, want %+v", i, sender.lines[i], w)
		}
	}
}

func TestScheduler_StopsOnWriteError(t *testing.T) {
	sender := &fakeSender{failOn: 2}
	var sleeps []time.Duration
	s := newTestScheduler(sender, &sleeps)

	rep, err := s.Deliver(context.Background(), "#c", "a\nb\nc", "u")
	if err == nil {
		t.Fatal("expected error")
	}
	if rep.Chunks != 1 {
		t.Errorf("chunks = %d, want 1", rep.Chunks)
	}
}

func TestScheduler_ContextCancelled(t *testing.T) {
	sender := &fakeSender{}
	s := NewScheduler(config.DeliveryConfig{ChunkBytes: 400, MinDelay: "1h", MaxDelay: "1h"}, sender, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Deliver(ctx, "#c", "hello", "u"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(sender.lines) != 0 {
		t.Error("nothing should be sent after cancel")
	}
}
