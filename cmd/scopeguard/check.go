package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/policy"
	"github.com/exploopio/scopeguard/pkg/scope"
)

// policyFlags are shared by check and batch.
type policyFlags struct {
	scopeFile     string
	blocklistFile string
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scopeFile, "scope", "", "Scope definition JSON file")
	cmd.Flags().StringVar(&f.blocklistFile, "blocklist", "", "Blocked-action manifest JSON file (default: built-in manifest)")
}

func (f *policyFlags) apply(cfg *config.Config) {
	if f.scopeFile != "" {
		cfg.Policy.ScopeFile = f.scopeFile
	}
	if f.blocklistFile != "" {
		cfg.Policy.BlocklistFile = f.blocklistFile
	}
}

var checkFlags struct {
	policyFlags
	target        string
	action        string
	allowOverride bool
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one (target, action) pair",
	Long: `Evaluate one (target, action) pair against the blocked-action manifest, the
scope definition and, for targets the scope does not cover, the arbiter.

Exit status is 0 when the action may run, 2 when it may not, and 1 on error.`,
	RunE: runCheck,
}

func init() {
	checkFlags.register(checkCmd)
	checkCmd.Flags().StringVarP(&checkFlags.target, "target", "t", "", "Target host, IP or URL")
	checkCmd.Flags().StringVarP(&checkFlags.action, "action", "a", "", "Action identifier, e.g. a nuclei template ID")
	checkCmd.Flags().BoolVar(&checkFlags.allowOverride, "allow-override", false, "Offer an interactive override for UNKNOWN decisions")
	_ = checkCmd.MarkFlagRequired("target")
	_ = checkCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) (err error) {
	if _, err := scope.Sanitize(checkFlags.target); err != nil {
		return sgerrors.E(sgerrors.KindInvalidInput, "check", "invalid --target", err)
	}

	a, err := newApp(cmd.Context(), "check", func(cfg *config.Config) {
		checkFlags.apply(cfg)
		if checkFlags.allowOverride {
			cfg.Policy.AllowManualOverride = true
		}
	})
	if err != nil {
		return err
	}
	defer func() { a.close(runStatus(err)) }()

	var prompter policy.Prompter
	if a.cfg.Policy.AllowManualOverride {
		prompter = policy.NewTerminalPrompter(os.Stdin, os.Stderr)
	}

	d, evalErr := a.engine(prompter).Evaluate(cmd.Context(), checkFlags.target, checkFlags.action)
	if d != nil {
		out, _ := json.MarshalIndent(d, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}

	switch {
	case sgerrors.GetKind(evalErr) == sgerrors.KindOverrideRejected:
		return errDenied
	case evalErr != nil:
		return evalErr
	case !d.Allowed():
		return errDenied
	}
	return nil
}
