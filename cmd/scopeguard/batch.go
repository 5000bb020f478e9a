package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/exploopio/scopeguard/pkg/config"
	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/metrics"
	"github.com/exploopio/scopeguard/pkg/model"
	"github.com/exploopio/scopeguard/pkg/scope"
)

// planItem is one entry of a batch plan file.
type planItem struct {
	Target string `json:"target"`
	Action string `json:"action"`
}

var batchFlags struct {
	policyFlags
	planFile string
	workers  int
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Evaluate a JSON plan of (target, action) pairs concurrently",
	Long: `Evaluate every {"target", "action"} entry of a JSON array concurrently and print
the decisions in plan order. Manual override is never offered in batch mode.

Exit status is 0 when every action may run, 2 when any may not, and 1 on error.`,
	RunE: runBatch,
}

func init() {
	batchFlags.register(batchCmd)
	batchCmd.Flags().StringVarP(&batchFlags.planFile, "plan", "p", "", "JSON plan file")
	batchCmd.Flags().IntVarP(&batchFlags.workers, "workers", "w", 0, "Concurrent evaluations (default: rate_limit.max_concurrency)")
	_ = batchCmd.MarkFlagRequired("plan")
	rootCmd.AddCommand(batchCmd)
}

func readPlan(path string) ([]planItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInvalidInput, "batch", "read plan", err)
	}
	var plan []planItem
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, sgerrors.E(sgerrors.KindInvalidInput, "batch", "parse plan", err)
	}
	for i, item := range plan {
		if item.Target == "" || item.Action == "" {
			return nil, sgerrors.E(sgerrors.KindInvalidInput, "batch", fmt.Sprintf("plan entry %d: target and action are required", i))
		}
		if _, err := scope.Sanitize(item.Target); err != nil {
			return nil, sgerrors.E(sgerrors.KindInvalidInput, "batch", fmt.Sprintf("plan entry %d: invalid target", i), err)
		}
	}
	return plan, nil
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	plan, err := readPlan(batchFlags.planFile)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), "batch", func(cfg *config.Config) {
		batchFlags.apply(cfg)
		cfg.Policy.AllowManualOverride = false
	})
	if err != nil {
		return err
	}
	defer func() { a.close(runStatus(err)) }()

	workers := batchFlags.workers
	if workers <= 0 {
		workers = a.cfg.RateLimit.MaxConcurrency
	}

	engine := a.engine(nil)
	decisions := make([]*model.PolicyDecision, len(plan))
	var inFlight atomic.Int64

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(workers)
	for i, item := range plan {
		i, item := i, item
		g.Go(func() error {
			a.metrics.GaugeSet(metrics.BatchInFlight.Name, float64(inFlight.Add(1)))
			defer func() { a.metrics.GaugeSet(metrics.BatchInFlight.Name, float64(inFlight.Add(-1))) }()

			d, err := engine.Evaluate(ctx, item.Target, item.Action)
			decisions[i] = d
			return err
		})
	}
	waitErr := g.Wait()

	out, _ := json.MarshalIndent(decisions, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if waitErr != nil {
		return waitErr
	}
	for _, d := range decisions {
		if d == nil || !d.Allowed() {
			return errDenied
		}
	}
	return nil
}
