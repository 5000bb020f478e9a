package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/exploopio/scopeguard/pkg/blocklist"
	"github.com/exploopio/scopeguard/pkg/classifier"
	"github.com/exploopio/scopeguard/pkg/config"
	"github.com/exploopio/scopeguard/pkg/llm"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/scanners/nuclei"
	"github.com/exploopio/scopeguard/pkg/shared/severity"
	"github.com/exploopio/scopeguard/pkg/triage"
)

var triageFlags struct {
	nucleiFile    string
	modelPath     string
	modelFormat   string
	blocklistFile string
}

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Score nuclei findings and print them ranked",
	Long: `Score every result of a nuclei JSON Lines file by fusing the local classifier
with the language-model assessment (when configured), record the findings, and
print them as JSON ordered by final score.

Results produced by a template on the blocked-action manifest are skipped.`,
	RunE: runTriage,
}

func init() {
	triageCmd.Flags().StringVarP(&triageFlags.nucleiFile, "nuclei", "n", "", "Nuclei JSONL results file")
	triageCmd.Flags().StringVarP(&triageFlags.modelPath, "model", "m", "", "Classifier model file (default: untrained, neutral scores)")
	triageCmd.Flags().StringVar(&triageFlags.modelFormat, "model-format", "", "Classifier model format: linear or onnx")
	triageCmd.Flags().StringVar(&triageFlags.blocklistFile, "blocklist", "", "Blocked-action manifest JSON file")
	_ = triageCmd.MarkFlagRequired("nuclei")
	rootCmd.AddCommand(triageCmd)
}

func runTriage(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd.Context(), "triage", func(cfg *config.Config) {
		if triageFlags.modelPath != "" {
			cfg.Triage.ModelPath = triageFlags.modelPath
		}
		if triageFlags.modelFormat != "" {
			cfg.Triage.ModelFormat = triageFlags.modelFormat
		}
		if triageFlags.blocklistFile != "" {
			cfg.Policy.BlocklistFile = triageFlags.blocklistFile
		}
	})
	if err != nil {
		return err
	}
	defer func() { a.close(runStatus(err)) }()

	raws, err := nuclei.NewParser(a.log).ReadFile(triageFlags.nucleiFile)
	if err != nil {
		return err
	}
	a.log.Info("triage: %d results read from %s", len(raws), triageFlags.nucleiFile)

	clf, closeClf, err := classifier.Load(a.cfg.Triage)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeClf(); cerr != nil {
			a.log.Warn("classifier: close: %v", cerr)
		}
	}()

	opts := triage.ScorerOptions{
		RunID:      a.rc.RunID(),
		Classifier: clf,
		Recorder:   a.recorder,
		Limiter:    a.limiter,
		Logger:     a.log,
		Metrics:    a.metrics,
		Timeout:    a.cfg.Timeout,
	}
	if a.llm != nil {
		opts.Assessor = llm.NewAssessor(a.llm)
	}
	scorer, err := triage.NewScorer(triage.FusionConfigFrom(a.cfg.Triage), opts)
	if err != nil {
		return err
	}

	var kept []triage.RawFinding
	for _, raw := range raws {
		if res := a.rc.Manifest().Evaluate(raw.TemplateID); res.Verdict == blocklist.Blocked {
			a.log.Warn("triage: skipping %s on %s: template matches blocked pattern %q", raw.TemplateID, raw.Target, res.Entry.Pattern)
			continue
		}
		kept = append(kept, raw)
	}

	findings := make([]*model.Finding, len(kept))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(a.cfg.RateLimit.MaxConcurrency)
	for i, raw := range kept {
		i, raw := i, raw
		g.Go(func() error {
			f, err := scorer.Score(ctx, raw)
			findings[i] = f
			return err
		})
	}
	waitErr := g.Wait()

	ranked := triage.Rank(findings)
	var counts severity.CountBySeverity
	for _, f := range ranked {
		counts.Increment(f.AdjustedSeverity)
	}
	a.summary = map[string]any{"severity": counts}
	a.log.Info("triage: %d scored (critical %d, high %d, medium %d, low %d, info %d)",
		counts.Total, counts.Critical, counts.High, counts.Medium, counts.Low, counts.Info)

	out, _ := json.MarshalIndent(ranked, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return waitErr
}
