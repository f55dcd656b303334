package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"riskgate/internal/storage"
)

// Show prints recent audited assessments, or gate decisions when requested.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show audit records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Decisions {
		return a.showDecisions(ctx, store, opts.Limit)
	}

	records, err := store.ListRecentAssessments(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no assessments found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fetched (UTC)\tMint\tScore\tLabel\tCritical\tReasons")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.FetchedAt.UTC().Format(time.RFC3339),
			rec.SubjectID,
			rec.Score,
			rec.Label,
			strings.Join(rec.Critical, ","),
			sanitizeInline(strings.Join(rec.Reasons, "; ")),
		)
	}
	writer.Flush()
	return nil
}

func (a *App) showDecisions(ctx context.Context, store storage.GateDecisionStore, limit int) error {
	records, err := store.ListRecentGateDecisions(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no gate decisions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tChain\tMint\tWallet\tAllowed\tDecided By\tStatus\tMessage")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%t\t%s\t%d\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.Chain,
			rec.SubjectID,
			rec.Wallet,
			rec.Allowed,
			rec.DecidedBy,
			rec.Status,
			sanitizeInline(rec.Message),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
