package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exploopio/scopeguard/pkg/classifier"
	"github.com/exploopio/scopeguard/pkg/config"
	"github.com/exploopio/scopeguard/pkg/runctx"
	"github.com/exploopio/scopeguard/pkg/triage"
)

var validateFlags struct {
	policyFlags
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration, scope, manifest and classifier",
	Long:  `Load every input a run would use and report what was found, without opening the database or recording anything.`,
	RunE:  runValidate,
}

func init() {
	validateFlags.register(validateCmd)
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(validateFlags.apply)
	if err != nil {
		return err
	}
	rc, err := runctx.Load(cfg, "")
	if err != nil {
		return err
	}
	if err := triage.FusionConfigFrom(cfg.Triage).Validate(); err != nil {
		return err
	}
	clf, closeClf, err := classifier.Load(cfg.Triage)
	if err != nil {
		return err
	}
	_ = closeClf()

	w := cmd.OutOrStdout()
	sc := rc.ScopeContext()
	if rc.Scope() == nil {
		fmt.Fprintln(w, "scope:      none (every target is UNKNOWN)")
	} else {
		fmt.Fprintf(w, "scope:      %s (%d in scope, %d out of scope)\n", sc.ProgramName, len(sc.InScope), len(sc.OutOfScope))
	}
	fmt.Fprintf(w, "blocklist:  %d patterns\n", rc.Manifest().Len())
	fmt.Fprintf(w, "arbiter:    %s\n", arbiterSummary(cfg))
	fmt.Fprintf(w, "classifier: %s\n", classifierSummary(cfg, clf))
	fmt.Fprintf(w, "override:   %v\n", cfg.Policy.AllowManualOverride)
	fmt.Fprintln(w, "OK")
	return nil
}

func arbiterSummary(cfg *config.Config) string {
	if !cfg.ArbiterEnabled() {
		return "disabled"
	}
	return fmt.Sprintf("%s %s (threshold %.2f, timeout %s)",
		cfg.LLM.Provider, cfg.LLM.Model, cfg.Policy.ArbiterConfidenceThreshold, cfg.Timeout)
}

func classifierSummary(cfg *config.Config, clf triage.Classifier) string {
	if m, ok := clf.(*classifier.LinearModel); ok && !m.Trained() {
		return "untrained (neutral scores)"
	}
	return fmt.Sprintf("%s %s", cfg.Triage.ModelFormat, cfg.Triage.ModelPath)
}
