package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"riskgate/internal/risk"
	"riskgate/internal/storage"
)

// Score computes risk for each mint and prints the results. Unless DryRun is
// set, results are recorded to the audit store when one is configured.
func (a *App) Score(ctx context.Context, opts ScoreOptions) error {
	if len(opts.Mints) == 0 {
		return errors.New("at least one mint is required")
	}

	var store *storage.Store
	if !opts.DryRun {
		opened, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}
		store = opened
	}

	scorer := a.newScorer(a.newDenylist(), a.newRuntimeStore())
	svc := a.newService(store, nil, nil)

	results := make([]risk.Result, 0, len(opts.Mints))
	failed := 0
	for _, mint := range opts.Mints {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := scorer.Score(ctx, mint)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("mint", mint).Msg("scoring failed")
			continue
		}
		if _, err := svc.RecordAssessment(ctx, res); err != nil {
			a.Logger.Error().Err(err).Str("mint", mint).Msg("failed to record assessment")
		}
		results = append(results, res)
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printResults(results)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d mints could not be scored", failed, len(opts.Mints))
	}
	return nil
}

func printResults(results []risk.Result) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Mint\tScore\tLabel\tLiquidity USD\tCritical\tReasons")
	for _, res := range results {
		liquidity := "-"
		if v, ok := res.Factors["liquidityUsd"].(float64); ok {
			liquidity = formatDecimal(decimal.NewFromFloat(v), 2)
		}
		critical := make([]string, len(res.Critical))
		for i, code := range res.Critical {
			critical[i] = string(code)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\n",
			res.SubjectID,
			res.Score,
			res.Label,
			liquidity,
			strings.Join(critical, ","),
			strings.Join(res.Reasons, "; "),
		)
	}
	writer.Flush()
}
