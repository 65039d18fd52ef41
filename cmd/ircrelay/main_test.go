package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/ircrelay/internal/config"
	"github.com/stellarlinkco/ircrelay/internal/memory"
	"github.com/stellarlinkco/ircrelay/internal/persona"
)

func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)
	for _, key := range []string{"IRCRELAY_API_KEY", "XAI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "IRCRELAY_DATA_DIR", "IRCRELAY_BASE_URL"} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func newCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func resetCronFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		cronExprFlag, cronEveryFlag, cronAtFlag, cronMessageFlag, cronToFlag = "", 0, "", "", ""
	})
}

func TestInit(t *testing.T) {
	want := map[string]bool{"run": false, "onboard": false, "status": false, "ignore": false, "optout": false, "cron": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
	if cronAddCmd.Flags().Lookup("every") == nil {
		t.Error("cron add is missing --every")
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                   "not set",
		"short":              "set",
		"xai-1234567890abcd": "xai-...abcd",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunOnboard(t *testing.T) {
	home := setupHome(t)
	cmd, out := newCmd()

	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}

	cfgPath := filepath.Join(home, ".ircrelay", "config.json")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	personaPath := filepath.Join(home, ".ircrelay", "workspace", persona.FileName)
	if _, err := os.Stat(personaPath); err != nil {
		t.Errorf("persona was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".ircrelay", "data", "cron")); err != nil {
		t.Errorf("data dir was not created: %v", err)
	}
	if !strings.Contains(out.String(), "Created config") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunOnboard_AlreadyExists(t *testing.T) {
	home := setupHome(t)
	cfgDir := filepath.Join(home, ".ircrelay")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	cmd, out := newCmd()
	if err := runOnboard(cmd, nil); err != nil {
		t.Fatalf("runOnboard error: %v", err)
	}
	if !strings.Contains(out.String(), "Config already exists") {
		t.Errorf("expected 'Config already exists', got: %s", out.String())
	}
}

func TestRunStatus(t *testing.T) {
	setupHome(t)
	t.Setenv("IRCRELAY_API_KEY", "xai-1234567890abcd")

	cmd, out := newCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus error: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Server: " + config.DefaultServer,
		"API Key: xai-...abcd",
		"Persona: none",
		"Ignored: 0",
		"Channel log: 0 entries",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
}

func TestRunStatus_CountsStores(t *testing.T) {
	setupHome(t)
	cmd, _ := newCmd()
	if err := registryAdd(memory.DocIgnores)(cmd, []string{"mallory", "eve"}); err != nil {
		t.Fatal(err)
	}

	cmd, out := newCmd()
	if err := runStatus(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Ignored: 2") {
		t.Errorf("status output:\n%s", out.String())
	}
}

func TestRunRelay_NoAPIKey(t *testing.T) {
	setupHome(t)
	err := runRelay(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "API key not set") {
		t.Errorf("runRelay error = %v", err)
	}
}

func TestRunRelay_InvalidConfig(t *testing.T) {
	home := setupHome(t)
	cfgDir := filepath.Join(home, ".ircrelay")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(`{"memory":{"backend":"redis"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := runRelay(&cobra.Command{}, nil); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("runRelay error = %v", err)
	}
}

func TestIgnoreCommands(t *testing.T) {
	setupHome(t)

	cmd, out := newCmd()
	if err := registryList(memory.DocIgnores)(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No entries") {
		t.Errorf("empty list output: %s", out.String())
	}

	cmd, out = newCmd()
	if err := registryAdd(memory.DocIgnores)(cmd, []string{"Mallory", "mallory"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Added Mallory") || !strings.Contains(out.String(), "mallory already present") {
		t.Errorf("add output: %s", out.String())
	}

	cmd, out = newCmd()
	if err := registryList(memory.DocIgnores)(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "Mallory" {
		t.Errorf("list output: %q", out.String())
	}

	cmd, out = newCmd()
	if err := registryRemove(memory.DocIgnores)(cmd, []string{"MALLORY", "nobody"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Removed MALLORY") || !strings.Contains(out.String(), "nobody not present") {
		t.Errorf("remove output: %s", out.String())
	}
}

func TestOptoutList(t *testing.T) {
	setupHome(t)
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	store, err := memory.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := memory.NewRegistry(store, memory.DocOptouts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add("bob"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	cmd, out := newCmd()
	if err := registryList(memory.DocOptouts)(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "bob" {
		t.Errorf("optout list = %q", out.String())
	}
}

func TestCronCommands(t *testing.T) {
	setupHome(t)
	resetCronFlags(t)

	cronEveryFlag = 30 * time.Minute
	cronMessageFlag = "post a tip"
	cronToFlag = "#go"
	cmd, out := newCmd()
	if err := runCronAdd(cmd, []string{"tips"}); err != nil {
		t.Fatalf("runCronAdd error: %v", err)
	}
	if !strings.Contains(out.String(), "every 30m0s") {
		t.Errorf("add output: %s", out.String())
	}

	svc, err := cronService()
	if err != nil {
		t.Fatal(err)
	}
	jobs := svc.ListJobs()
	if len(jobs) != 1 || !jobs[0].Payload.Deliver || jobs[0].Payload.To != "#go" {
		t.Fatalf("jobs = %+v", jobs)
	}

	cmd, out = newCmd()
	if err := runCronList(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), jobs[0].ID) || !strings.Contains(out.String(), "tips") {
		t.Errorf("list output: %s", out.String())
	}

	cmd, _ = newCmd()
	if err := runCronRemove(cmd, []string{jobs[0].ID}); err != nil {
		t.Fatal(err)
	}
	if err := runCronRemove(cmd, []string{jobs[0].ID}); err == nil {
		t.Error("removing twice should fail")
	}

	cmd, out = newCmd()
	if err := runCronList(cmd, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No scheduled jobs") {
		t.Errorf("list after remove: %s", out.String())
	}
}

func TestScheduleFromFlags(t *testing.T) {
	resetCronFlags(t)

	if _, err := scheduleFromFlags(); err == nil {
		t.Error("no schedule flag should fail")
	}

	cronExprFlag = "0 0 9 * * *"
	cronEveryFlag = time.Hour
	if _, err := scheduleFromFlags(); err == nil {
		t.Error("two schedule flags should fail")
	}

	cronEveryFlag = 0
	s, err := scheduleFromFlags()
	if err != nil || s.Expr != "0 0 9 * * *" {
		t.Errorf("cron schedule = %+v, %v", s, err)
	}

	cronExprFlag = ""
	cronAtFlag = "not-a-time"
	if _, err := scheduleFromFlags(); err == nil {
		t.Error("bad --at should fail")
	}

	cronAtFlag = "2030-01-02T15:04:05Z"
	s, err = scheduleFromFlags()
	if err != nil || s.AtMs != time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC).UnixMilli() {
		t.Errorf("at schedule = %+v, %v", s, err)
	}
}
