package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"price-pulse/internal/storage"
)

// Show prints recent alert events or trigger history.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Triggers {
		return a.showTriggers(ctx, store, opts.Limit)
	}
	return a.showEvents(ctx, store, opts.Limit)
}

func (a *App) showEvents(ctx context.Context, store *storage.Store, limit int) error {
	events, err := store.ListRecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tKind\tChange%\tSeverity\tStatus\tMessage")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.TriggeredAt.UTC().Format(time.RFC3339),
			event.Symbol,
			event.Kind,
			event.PercentChange.StringFixed(2),
			event.Severity,
			event.Status,
			sanitizeInline(event.Message),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showTriggers(ctx context.Context, store *storage.Store, limit int) error {
	triggers, err := store.ListRecentTriggers(ctx, limit)
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		fmt.Fprintln(os.Stdout, "no triggers found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUser\tSymbol\tSource\tTarget\tActual\tNotified\tReason")

	for _, trigger := range triggers {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			trigger.TriggeredAt.UTC().Format(time.RFC3339),
			trigger.UserID,
			trigger.Symbol,
			trigger.Source,
			trigger.TargetPrice.StringFixed(2),
			trigger.ActualPrice.StringFixed(2),
			trigger.Notified,
			sanitizeInline(trigger.Reason),
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
