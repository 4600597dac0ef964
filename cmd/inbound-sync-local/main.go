// Package main runs one inbound mailbox sync outside Lambda, reading its
// parameters from a YAML file instead of SSM.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/config"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/ingest"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/metrics"
)

const pushJob = "inbound-sync"

func main() {
	if err := newRootCmd(os.Getenv).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inbound-sync-local",
		Short:         "Run the inbound mailbox sync against a local parameter file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("params", "params.yaml", "YAML file holding the sync parameters")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level: debug, info, warn, error")

	rootCmd.AddCommand(newRunCmd(getenv), newCheckCmd(getenv))
	return rootCmd
}

func newRunCmd(getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sync and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, getenv)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			clients := ingest.Clients{
				S3:  s3.NewFromConfig(awsCfg),
				SQS: sqs.NewFromConfig(awsCfg),
			}
			if cfg.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
				defer rdb.Close()
				clients.Redis = rdb
			}

			m := metrics.New()
			runner, err := ingest.FromConfig(cfg, clients, m, logger)
			if err != nil {
				return err
			}

			result := runner.Run(ctx)

			if cfg.PushgatewayURL != "" {
				pushMetrics(ctx, logger, m, cfg.PushgatewayURL)
			}

			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync failed: %s", result.Error)
			}
			return nil
		},
	}
}

// checkSummary is the non-secret view of a loaded configuration.
type checkSummary struct {
	Bucket            string `json:"bucket"`
	Mailbox           string `json:"mailbox"`
	TrashFolder       string `json:"trashFolder"`
	MailServer        string `json:"mailServer"`
	MailTLS           bool   `json:"mailTls"`
	Database          string `json:"database"`
	StoredProcedure   string `json:"storedProcedure"`
	UploadConcurrency int    `json:"uploadConcurrency"`
	ErrorPolicy       string `json:"errorPolicy"`
	Lease             bool   `json:"lease"`
	OrphanQueue       bool   `json:"orphanQueue"`
}

func newCheckCmd(getenv func(string) string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration without connecting to anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, getenv)
			if err != nil {
				return err
			}
			policy, err := ingest.ParseErrorPolicy(cfg.ErrorPolicy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), checkSummary{
				Bucket:            cfg.Bucket,
				Mailbox:           cfg.Mailbox,
				TrashFolder:       cfg.TrashFolder,
				MailServer:        fmt.Sprintf("%s@%s:%d", cfg.Mail.User, cfg.Mail.Host, cfg.Mail.Port),
				MailTLS:           cfg.Mail.TLS,
				Database:          fmt.Sprintf("%s@%s:%d/%s", cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name),
				StoredProcedure:   cfg.StoredProcedure,
				UploadConcurrency: cfg.UploadConcurrency,
				ErrorPolicy:       policy.String(),
				Lease:             cfg.RedisAddr != "",
				OrphanQueue:       cfg.BlobCleanupQueueURL != "",
			})
		},
	}
}

func loadConfig(cmd *cobra.Command, getenv func(string) string) (*config.Config, error) {
	path, err := cmd.Flags().GetString("params")
	if err != nil {
		return nil, err
	}
	store, err := config.LoadFileStore(path)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	return config.Load(cmd.Context(), store, getenv)
}

func newLogger(cmd *cobra.Command, w io.Writer) (*slog.Logger, error) {
	name, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", name)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// pushMetrics pushes the run metrics. A failed push is logged and otherwise
// ignored.
func pushMetrics(ctx context.Context, logger *slog.Logger, m *metrics.Metrics, url string) {
	if err := m.Push(ctx, url, pushJob, nil); err != nil {
		logger.WarnContext(ctx, "Failed to push metrics",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
