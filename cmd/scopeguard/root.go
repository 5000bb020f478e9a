package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	appName    = "scopeguard"
	appVersion = "0.1.0"
)

// Exit codes. A denied check is not an error but must stop a calling script.
const (
	exitOK     = 0
	exitError  = 1
	exitDenied = 2
)

// errDenied marks a completed evaluation whose decision does not permit the action.
var errDenied = errors.New("action not permitted")

var globalFlags struct {
	configPath  string
	dbPath      string
	auditLog    string
	metricsAddr string
	verbose     bool
}

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "Scope policy gate and finding triage for authorized security testing",
	Long:          `Scopeguard decides whether a scanner action may run against a target, and scores scanner findings by fusing a local classifier with an optional language-model assessment.`,
	Version:       appVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the matching status.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	switch {
	case err == nil:
		os.Exit(exitOK)
	case errors.Is(err, errDenied):
		os.Exit(exitDenied)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitError)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&globalFlags.configPath, "config", "c", "", "Path to YAML config file")
	pf.StringVar(&globalFlags.dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	pf.StringVar(&globalFlags.auditLog, "audit-log", "", "JSONL audit log path (overrides storage.audit_log)")
	pf.StringVar(&globalFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	pf.BoolVarP(&globalFlags.verbose, "verbose", "v", false, "Debug logging and audit echo on stderr")
}
