// Command codey is the CLI entry point: a cobra root command with
// persistent verbose/workspace flags, a zap logger built in buildApp, and
// signal-driven context cancellation around every
// long-running command.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"codey/internal/config"
	"codey/internal/coretypes"
	"codey/internal/engine"
	"codey/internal/errs"
	"codey/internal/lifecycle"
	"codey/internal/logging"
	"codey/internal/orchestrator"
	"codey/internal/permission"
	"codey/internal/router"
	"codey/internal/tools"
	"codey/internal/tools/filex"
	"codey/internal/tools/gitx"
	"codey/internal/tools/shellx"
	"codey/internal/tools/sqlitex"
)

var (
	verbose    bool
	workspace  string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "codey",
	Short: "A local, CPU-first coding assistant orchestration core",
	Long: `codey routes one utterance at a time through an Intent Router,
a Task Planner, a Tool Executor gated by user permission, and a set of
CPU-resident specialist engines (router, coder, algorithm).

Run without arguments to start an interactive loop over the process entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive()
	},
}

var processCmd = &cobra.Command{
	Use:   "process [utterance...]",
	Short: "Process a single utterance and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(strings.Join(args, " "))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "codey.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(processCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor implements exit code contract: 0 success, 1
// unrecoverable error, 2 user-denied permission — set only when the
// top-level request produced no user output at all.
func exitCodeFor(err error) int {
	if errs.Is(err, errs.KindPermissionDenied) {
		return 2
	}
	return 1
}

// app bundles the components every command wires together, built fresh
// per invocation from the resolved configuration.
type app struct {
	orch *orchestrator.Orchestrator
	log  *zap.Logger
}

func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.WorkspaceDir = workspace
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := logging.New(verbose)
	if err != nil {
		return nil, err
	}

	// No real inference binding ships in this repo (the engine contract
	// delegates to an external native process); the stub adapter fills that
	// contract's shape so every layer above it is fully exercised.
	adapter := engine.NewStubAdapter()

	paths := make(map[coretypes.Role]string, len(cfg.Models))
	for name, rc := range cfg.Models {
		paths[coretypes.Role(name)] = rc.Path
	}

	lm, err := lifecycle.New(adapter, cfg.Policies(), paths, cfg.MemoryBudgetMB, base)
	if err != nil {
		return nil, err
	}

	routerEngine, err := lm.EnsureLoaded(context.Background(), coretypes.RoleRouter)
	if err != nil {
		return nil, err
	}

	r := router.New(router.DefaultConfig(), adapter, base)

	reg := tools.New(base)
	filex.Register(reg, cfg.WorkspaceDir)
	gitx.Register(reg, cfg.WorkspaceDir)
	shellx.Register(reg, cfg.WorkspaceDir, cfg.AllowShell)
	sqlitex.Register(reg)

	gate := permission.New(stdinPrompter, cfg.RequireConfirmation)

	orch := orchestrator.New(lm, r, adapter, reg, gate, routerEngine, base)
	return &app{orch: orch, log: base}, nil
}

// stdinPrompter implements permission.Prompter over the terminal: yes/no,
// plus an "all" answer that folds into the Gate's batch cache.
func stdinPrompter(req coretypes.PermissionRequest) coretypes.Decision {
	fmt.Printf("permission requested: %s\n", req.Description)
	if req.Preview != "" {
		fmt.Printf("  %s\n", req.Preview)
	}
	if req.Destructive {
		fmt.Println("  this action is destructive")
	}
	fmt.Print("allow? [y/N/a=allow all of this kind]: ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return coretypes.DecisionAllowOnce
	case "a", "all":
		return coretypes.DecisionAllowBatch
	default:
		return coretypes.DecisionDeny
	}
}

func runProcess(utterance string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	out, err := a.orch.Process(ctx, utterance)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func runInteractive() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	stopWatch, err := config.Watch(configPath, func(cfg *config.Config) {
		a.log.Info("configuration reloaded", zap.String("path", configPath))
	}, func(err error) {
		a.log.Warn("configuration reload failed, keeping previous configuration", zap.Error(err))
	})
	if err == nil {
		defer func() { _ = stopWatch() }()
	} else {
		a.log.Warn("configuration hot-reload disabled", zap.Error(err))
	}

	fmt.Println("codey interactive mode. Type an instruction, or 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		out, err := a.orch.Process(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(out)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
