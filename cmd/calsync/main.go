package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/calendar-sync/internal/app"
	"github.com/hackgods/calendar-sync/internal/appointment"
	"github.com/hackgods/calendar-sync/internal/config"
	"github.com/hackgods/calendar-sync/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "calsync",
	Short:         "Import grooming calendars into the appointment store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	importCmd := &cobra.Command{
		Use:   "import [file.ics]",
		Short: "Import a calendar file, stdin (-) or a published URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			if url == "" && len(args) == 0 {
				return errors.New("a file argument or --url is required")
			}
			return withStack(func(ctx context.Context, stack *app.Stack) error {
				return runImport(ctx, stack, args, url, cmd.OutOrStdout())
			})
		},
	}
	importCmd.Flags().String("url", "", "Published calendar URL (http, https or webcal)")
	rootCmd.AddCommand(importCmd)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Remove duplicate appointments, keeping the earliest created",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			clientID, _ := cmd.Flags().GetString("client-id")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")

			filter := appointment.AppointmentFilter{From: from, To: to}
			if clientID != "" {
				id, err := uuid.Parse(clientID)
				if err != nil {
					return fmt.Errorf("--client-id: %w", err)
				}
				filter.ClientID = &id
			}

			return withStack(func(ctx context.Context, stack *app.Stack) error {
				report, err := stack.Auditor().Audit(ctx, filter, dryRun)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	auditCmd.Flags().Bool("dry-run", false, "Report duplicates without deleting them")
	auditCmd.Flags().String("client-id", "", "Only audit this client")
	auditCmd.Flags().String("from", "", "First date to audit (YYYY-MM-DD)")
	auditCmd.Flags().String("to", "", "Last date to audit (YYYY-MM-DD)")
	rootCmd.AddCommand(auditCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withStack(fn func(ctx context.Context, stack *app.Stack) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// logs go to stderr so stdout stays machine readable
	log := logger.NewWithWriter(os.Stderr, "calsync", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Close()

	return fn(ctx, stack)
}

func runImport(ctx context.Context, stack *app.Stack, args []string, url string, out io.Writer) error {
	orch, err := stack.Importer()
	if err != nil {
		return err
	}

	var body []byte
	switch {
	case url != "":
		body, err = stack.Fetcher().Fetch(ctx, url)
	case args[0] == "-":
		body, err = io.ReadAll(os.Stdin)
	default:
		body, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}

	summary, err := orch.RunBytes(ctx, body)
	if err != nil {
		return err
	}
	return printJSON(out, summary)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
