// Command mcpconceal is a transparent stdio privacy proxy for MCP-family
// JSON-RPC tool servers: it spawns a target command, forwards its stdio
// full-duplex, and rewrites PII in both directions with stable pseudonyms
// before anything reaches the wire.
//
// Usage:
//
//	mcpconceal --target-command /usr/local/bin/some-mcp-server \
//	           --target-args "--flag value" \
//	           --config mcpconceal.toml \
//	           --log-level info
//
// Exit codes:
//
//	0   target exited cleanly
//	1   configuration error (bad flags, unreadable/invalid config file, bad regex)
//	2   failed to spawn the target command
//	3   fatal I/O or pseudonym-store failure, including failure to open the store
//	N   any other value is the target process's own exit code
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"mcpconceal/internal/config"
	"mcpconceal/internal/logger"
	"mcpconceal/internal/metrics"
	"mcpconceal/internal/orchestrator"
	"mcpconceal/internal/store"
	"mcpconceal/internal/supervisor"
)

var (
	targetCommand string
	targetArgs    []string
	configPath    string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "mcpconceal",
	Short: "Transparent privacy proxy for MCP-family JSON-RPC stdio traffic",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&targetCommand, "target-command", "", "downstream tool server executable to spawn (required)")
	rootCmd.Flags().StringArrayVar(&targetArgs, "target-args", nil, "argument(s) to the target command; may repeat or be space-joined in one value")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a TOML configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (error, warn, info, debug)")
}

// exitCode carries the process exit status out of run (cobra's own
// Execute/RunE return value only distinguishes error/no-error, which is not
// enough to surface the child's actual exit status).
var exitCode int

func main() {
	if err := rootCmd.Execute(); err != nil {
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func run(cmd *cobra.Command, args []string) error {
	if targetCommand == "" {
		exitCode = 1
		return fmt.Errorf("mcpconceal: --target-command is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		exitCode = 1
		return fmt.Errorf("mcpconceal: load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logger.New("MAIN", cfg.LogLevel)
	m := metrics.New()

	st, err := store.Open(cfg.Mapping.DatabasePath, store.Options{
		FakerSeed: cfg.Faker.Seed,
		Locale:    cfg.Faker.Locale,
	})
	if err != nil {
		log.Errorf("startup", "open pseudonym store: %v", err)
		exitCode = 3
		return err
	}
	defer st.Close()

	if cfg.Mapping.RetentionDays > 0 {
		st.StartRetentionSweeper(cfg.Mapping.RetentionDays, store.DefaultSweepInterval)
	}

	sup := supervisor.New(supervisor.Config{
		Command: targetCommand,
		Args:    flattenTargetArgs(targetArgs),
	})

	orch, err := orchestrator.New(cfg, log, m, sup, st)
	if err != nil {
		log.Errorf("startup", "build orchestrator: %v", err)
		exitCode = 1
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warnf("signal", "received %s, shutting down target", sig)
		cancel()
		_ = sup.Stop()
	}()

	usr1Ch := make(chan os.Signal, 1)
	signal.Notify(usr1Ch, syscall.SIGUSR1)
	go func() {
		for range usr1Ch {
			orch.DumpMetrics()
		}
	}()

	code, runErr := orch.Run(ctx, os.Stdin, os.Stdout)
	exitCode = code
	if runErr != nil {
		log.Errorf("run", "%v", runErr)
		return runErr
	}
	return nil
}

// flattenTargetArgs splits each --target-args value on whitespace, so a
// caller can either repeat the flag once per argument or pass one
// space-joined string.
func flattenTargetArgs(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Fields(v)...)
	}
	return out
}
