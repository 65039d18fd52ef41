package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/ircrelay/internal/config"
	"github.com/stellarlinkco/ircrelay/internal/cron"
	"github.com/stellarlinkco/ircrelay/internal/gateway"
	"github.com/stellarlinkco/ircrelay/internal/logging"
	"github.com/stellarlinkco/ircrelay/internal/memory"
	"github.com/stellarlinkco/ircrelay/internal/persona"
)

var rootCmd = &cobra.Command{
	Use:   "ircrelay",
	Short: "ircrelay - IRC relay for a generative assistant",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to IRC and relay until interrupted",
	RunE:  runRelay,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config, data directory and PERSONA.md",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and store sizes",
	RunE:  runStatus,
}

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage the ignore registry",
}

var ignoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ignored users",
	Args:  cobra.NoArgs,
	RunE:  registryList(memory.DocIgnores),
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add <nick>...",
	Short: "Ignore users",
	Args:  cobra.MinimumNArgs(1),
	RunE:  registryAdd(memory.DocIgnores),
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove <nick>...",
	Short: "Stop ignoring users",
	Args:  cobra.MinimumNArgs(1),
	RunE:  registryRemove(memory.DocIgnores),
}

var optoutCmd = &cobra.Command{
	Use:   "optout",
	Short: "Inspect the logging opt-out registry",
}

var optoutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users who opted out of channel logging",
	Args:  cobra.NoArgs,
	RunE:  registryList(memory.DocOptouts),
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Schedule a prompt; with --to the answer is posted there",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

var (
	cronExprFlag    string
	cronEveryFlag   time.Duration
	cronAtFlag      string
	cronMessageFlag string
	cronToFlag      string
)

func init() {
	cronAddCmd.Flags().StringVar(&cronExprFlag, "cron", "", "Cron expression with seconds, e.g. \"0 0 9 * * *\"")
	cronAddCmd.Flags().DurationVar(&cronEveryFlag, "every", 0, "Fixed interval, e.g. 30m")
	cronAddCmd.Flags().StringVar(&cronAtFlag, "at", "", "One-shot time (RFC3339)")
	cronAddCmd.Flags().StringVarP(&cronMessageFlag, "message", "m", "", "Prompt to send to the generator")
	cronAddCmd.Flags().StringVar(&cronToFlag, "to", "", "Channel or nick that receives the answer")
	_ = cronAddCmd.MarkFlagRequired("message")

	ignoreCmd.AddCommand(ignoreListCmd, ignoreAddCmd, ignoreRemoveCmd)
	optoutCmd.AddCommand(optoutListCmd)
	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRemoveCmd)
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, ignoreCmd, optoutCmd, cronCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'ircrelay onboard' or set IRCRELAY_API_KEY / XAI_API_KEY")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir(), "cron"), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	wrote, err := persona.WriteTemplate(cfg.Agent.Workspace)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(out, "  Created: %s\n", filepath.Join(cfg.Agent.Workspace, persona.FileName))
	}

	fmt.Fprintf(out, "Data dir: %s\n", cfg.DataDir())
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set the server, channels and API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set IRCRELAY_API_KEY / XAI_API_KEY")
	fmt.Fprintln(out, "  3. Run 'ircrelay run'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Config: %v\n", err)
	}
	fmt.Fprintf(out, "Server: %s (tls=%v)\n", cfg.IRC.Address(), cfg.IRC.SSL)
	fmt.Fprintf(out, "Nickname: %s\n", cfg.IRC.Nickname)
	fmt.Fprintf(out, "Channels: %s\n", strings.Join(cfg.IRC.Channels, ", "))
	fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.Type)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))

	if p, err := persona.Load(cfg.Agent.Workspace, cfg.Agent.Context, nil); err == nil && p.Path != "" {
		fmt.Fprintf(out, "Persona: %s (%s)\n", p.Name, p.Path)
	} else {
		fmt.Fprintln(out, "Persona: none (using agent.context)")
	}

	store, err := memory.Open(cfg)
	if err != nil {
		fmt.Fprintf(out, "Store: error (%v)\n", err)
		return nil
	}
	defer store.Close()

	fmt.Fprintf(out, "Store: %s (%s)\n", cfg.Memory.Backend, cfg.DataDir())
	optouts, err := memory.NewRegistry(store, memory.DocOptouts)
	if err != nil {
		fmt.Fprintf(out, "Optouts: error (%v)\n", err)
		return nil
	}
	if ignores, err := memory.NewRegistry(store, memory.DocIgnores); err == nil {
		fmt.Fprintf(out, "Ignored: %d\n", ignores.Len())
	}
	fmt.Fprintf(out, "Opted out: %d\n", optouts.Len())
	if conv, err := memory.NewConversationStore(store); err == nil {
		fmt.Fprintf(out, "Conversations: %d users\n", conv.Users())
	}
	if logs, err := memory.NewLogStore(store, optouts, cfg.Memory.LogLimit, cfg.Memory.MaxAge()); err == nil {
		fmt.Fprintf(out, "Channel log: %d entries\n", logs.Len())
	}
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func withRegistry(name string, fn func(r *memory.Registry, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := memory.Open(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		reg, err := memory.NewRegistry(store, name)
		if err != nil {
			return err
		}
		return fn(reg, cmd.OutOrStdout(), args)
	}
}

func registryList(name string) func(*cobra.Command, []string) error {
	return withRegistry(name, func(r *memory.Registry, out io.Writer, _ []string) error {
		members := r.Members()
		if len(members) == 0 {
			fmt.Fprintf(out, "No entries in %s.\n", name)
			return nil
		}
		for _, m := range members {
			fmt.Fprintln(out, m)
		}
		return nil
	})
}

func registryAdd(name string) func(*cobra.Command, []string) error {
	return withRegistry(name, func(r *memory.Registry, out io.Writer, args []string) error {
		for _, nick := range args {
			added, err := r.Add(nick)
			if err != nil {
				return err
			}
			if added {
				fmt.Fprintf(out, "Added %s\n", nick)
			} else {
				fmt.Fprintf(out, "%s already present\n", nick)
			}
		}
		return nil
	})
}

func registryRemove(name string) func(*cobra.Command, []string) error {
	return withRegistry(name, func(r *memory.Registry, out io.Writer, args []string) error {
		for _, nick := range args {
			removed, err := r.Remove(nick)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(out, "Removed %s\n", nick)
			} else {
				fmt.Fprintf(out, "%s not present\n", nick)
			}
		}
		return nil
	})
}

func cronService() (*cron.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := memory.NewFilePersister(filepath.Join(cfg.DataDir(), "cron"))
	if err != nil {
		return nil, err
	}
	svc := cron.NewService(store, nil)
	if err := svc.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return svc, nil
}

func runCronList(cmd *cobra.Command, args []string) error {
	svc, err := cronService()
	if err != nil {
		return err
	}
	jobs := svc.ListJobs()
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No scheduled jobs.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tENABLED\tTO\tLAST")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\n", j.ID, j.Name, j.Schedule, j.Enabled, j.Payload.To, j.State.LastStatus)
	}
	return tw.Flush()
}

func runCronAdd(cmd *cobra.Command, args []string) error {
	schedule, err := scheduleFromFlags()
	if err != nil {
		return err
	}
	svc, err := cronService()
	if err != nil {
		return err
	}
	payload := cron.Payload{Message: cronMessageFlag, To: cronToFlag, Deliver: cronToFlag != ""}
	job, err := svc.AddJob(args[0], schedule, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added job %s (%s)\n", job.ID, job.Schedule)
	return nil
}

func scheduleFromFlags() (cron.Schedule, error) {
	set := 0
	var s cron.Schedule
	if cronExprFlag != "" {
		set++
		s = cron.Schedule{Kind: cron.KindCron, Expr: cronExprFlag}
	}
	if cronEveryFlag > 0 {
		set++
		s = cron.Schedule{Kind: cron.KindEvery, EveryMs: cronEveryFlag.Milliseconds()}
	}
	if cronAtFlag != "" {
		set++
		at, err := time.Parse(time.RFC3339, cronAtFlag)
		if err != nil {
			return s, fmt.Errorf("parse --at: %w", err)
		}
		s = cron.Schedule{Kind: cron.KindAt, AtMs: at.UnixMilli()}
	}
	if set != 1 {
		return s, fmt.Errorf("exactly one of --cron, --every or --at is required")
	}
	return s, s.Validate()
}

func runCronRemove(cmd *cobra.Command, args []string) error {
	svc, err := cronService()
	if err != nil {
		return err
	}
	if !svc.RemoveJob(args[0]) {
		return fmt.Errorf("job %s not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
	return nil
}
