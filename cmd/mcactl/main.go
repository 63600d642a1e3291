package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/fundlane/mca-backend/internal/config"
	"github.com/fundlane/mca-backend/internal/core/domain"
	queue "github.com/fundlane/mca-backend/internal/infrastructure/queue/asynq"
	"github.com/fundlane/mca-backend/internal/infrastructure/repository/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mcactl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mcactl",
		Short:        "Operational CLI for the document processing backend",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newDocumentCmd(),
		newWebhookCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func newDocumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Inspect and reprocess documents",
	}
	cmd.AddCommand(newDocumentStatusCmd(), newDocumentReprocessCmd())
	return cmd
}

func newDocumentStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <document-id>",
		Short: "Print a document's processing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps()
			if err != nil {
				return err
			}
			defer deps.close()

			doc, err := deps.documents.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
}

// Reprocessing is the only sanctioned terminal-to-pending transition; it
// refuses documents that are still pending or in flight.
func newDocumentReprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Reset a terminal document to pending and re-enqueue OCR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps()
			if err != nil {
				return err
			}
			defer deps.close()

			ctx := cmd.Context()
			id := args[0]
			if err := deps.documents.ResetForReprocessing(ctx, id); err != nil {
				return err
			}
			if err := deps.tasks.EnqueueOCR(ctx, id); err != nil {
				return err
			}
			fmt.Printf("document %s reset to pending and enqueued\n", id)
			return nil
		},
	}
}

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Inspect and retry webhooks",
	}
	cmd.AddCommand(newWebhookRetryCmd())
	return cmd
}

// newWebhookRetryCmd gives an exhausted webhook a fresh retry budget. This is
// the operator override; the delivery path itself never resurrects a failed
// webhook.
func newWebhookRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <webhook-id>",
		Short: "Reset a webhook's retry budget and re-enqueue delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps()
			if err != nil {
				return err
			}
			defer deps.close()

			ctx := cmd.Context()
			wh, err := deps.webhooks.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if wh.Delivered {
				return fmt.Errorf("webhook %s is already delivered", wh.ID)
			}
			if len(wh.Payload) == 0 {
				return fmt.Errorf("webhook %s has no staged payload to deliver", wh.ID)
			}

			wh.RetryCount = 0
			wh.Status = domain.WebhookPending
			wh.UpdatedAt = time.Now().UTC()
			if err := deps.webhooks.Update(ctx, wh); err != nil {
				return err
			}
			if err := deps.tasks.EnqueueWebhookDelivery(ctx, wh.ID); err != nil {
				return err
			}
			fmt.Printf("webhook %s reset and enqueued\n", wh.ID)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			db, err := postgres.OpenDB(cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.EnsureSchema(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Println("schema is up to date")
			return nil
		},
	}
}

type deps struct {
	documents *postgres.DocumentRepository
	webhooks  *postgres.WebhookRepository
	tasks     *queue.Client
	close     func()
}

func openDeps() (*deps, error) {
	cfg := config.Load()
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	tasks := queue.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, queue.ClientOptions{
		OCRMaxRetries:     cfg.OCRMaxRetries,
		WebhookMaxRetries: cfg.WebhookMaxRetries,
		OCRTimeout:        cfg.OCRTaskTimeout,
	})

	return &deps{
		documents: postgres.NewDocumentRepository(db),
		webhooks:  postgres.NewWebhookRepository(db),
		tasks:     tasks,
		close: func() {
			_ = tasks.Close()
			_ = db.Close()
		},
	}, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
