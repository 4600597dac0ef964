package ingest

import (
	"context"
	"log/slog"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/blob"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/blobdelete"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/config"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/lease"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/mailbox"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/record"
)

// Clients are the service clients a Runner is built on. SQS and Redis may be
// nil; the orphan queue and the run lease are then not used.
type Clients struct {
	S3    blob.ObjectPutter
	SQS   blobdelete.SQSSender
	Redis lease.Client
}

// FromConfig builds a Runner for cfg.
func FromConfig(cfg *config.Config, clients Clients, observer Observer, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	var orphans blob.OrphanPublisher
	if clients.SQS != nil && cfg.BlobCleanupQueueURL != "" {
		orphans = blobdelete.NewSQSPublisher(clients.SQS, cfg.BlobCleanupQueueURL)
	}

	var leaser mailbox.Leaser
	if clients.Redis != nil {
		key := lease.Key(cfg.Mail.User, cfg.Mail.Host, cfg.Mailbox)
		leaser = lease.NewRedis(clients.Redis, key, cfg.LeaseTTL, logger)
	}

	db := cfg.DB
	procedure := cfg.StoredProcedure
	return NewRunner(Deps{
		Mailbox:   mailbox.NewIMAPMailbox(cfg.Mail, cfg.Mailbox, leaser, logger),
		Publisher: blob.NewPublisher(clients.S3, cfg.Bucket, cfg.UploadConcurrency, orphans, logger),
		OpenStore: func(ctx context.Context) (Store, error) {
			store, err := record.Connect(ctx, db, procedure)
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		Observer:    observer,
		Policy:      policy,
		TrashFolder: cfg.TrashFolder,
		Logger:      logger,
	}), nil
}
