// Package blob publishes original messages and their attachments to S3.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/message"
)

// ErrStorageWrite is returned when an object could not be written.
var ErrStorageWrite = errors.New("storage write failed")

// AssetKind distinguishes the original message from its attachments.
type AssetKind string

const (
	KindMessage    AssetKind = "message"
	KindAttachment AssetKind = "attachment"
)

const emlContentType = "application/octet-stream"

// StoredAsset is one object written for a message.
type StoredAsset struct {
	Kind        AssetKind `json:"kind"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Original    string    `json:"original"`
	Size        int64     `json:"size"`

	Content []byte `json:"-"`
}

// ObjectPutter abstracts S3 writes for dependency inversion.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// OrphanPublisher queues objects that no record will ever reference.
type OrphanPublisher interface {
	PublishOrphans(ctx context.Context, bucket string, keys []string, reason string) error
}

// Publisher writes the assets of one message at a time.
type Publisher struct {
	client      ObjectPutter
	bucket      string
	concurrency int
	orphans     OrphanPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewPublisher creates a Publisher writing to bucket with at most concurrency
// uploads in flight. orphans may be nil.
func NewPublisher(client ObjectPutter, bucket string, concurrency int, orphans OrphanPublisher, logger *slog.Logger) *Publisher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:      client,
		bucket:      bucket,
		concurrency: concurrency,
		orphans:     orphans,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the clock used for folder and attachment names.
func (p *Publisher) WithClock(now func() time.Time) *Publisher {
	p.now = now
	return p
}

// Publish writes every attachment of msg and the raw message itself, and
// returns the manifest in attachment order with the message last. It returns
// only after every upload has finished.
func (p *Publisher) Publish(ctx context.Context, msg *message.OriginalMessage) ([]StoredAsset, error) {
	now := p.now().UTC()
	folder := FolderKey(now, msg.Recipient())
	millis := now.UnixMilli()

	emlName, err := EMLFilename(msg.MessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", message.ErrMalformedMessage, err)
	}

	assets := make([]StoredAsset, 0, len(msg.Attachments)+1)
	for i, att := range msg.Attachments {
		name := AttachmentFilename(millis, i, att.Filename)
		contentType := att.ContentType
		if contentType == "" {
			contentType = emlContentType
		}
		assets = append(assets, StoredAsset{
			Kind:        KindAttachment,
			Bucket:      p.bucket,
			Key:         folder + "/" + name,
			Filename:    name,
			ContentType: contentType,
			Original:    att.Filename,
			Size:        int64(len(att.Data)),
			Content:     att.Data,
		})
	}
	assets = append(assets, StoredAsset{
		Kind:        KindMessage,
		Bucket:      p.bucket,
		Key:         folder + "/" + emlName,
		Filename:    emlName,
		ContentType: emlContentType,
		Original:    emlName,
		Size:        int64(len(msg.Raw)),
		Content:     msg.Raw,
	})

	written := make([]bool, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range assets {
		g.Go(func() error {
			if err := p.put(gctx, assets[i]); err != nil {
				return err
			}
			written[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var partial []StoredAsset
		for i, ok := range written {
			if ok {
				partial = append(partial, assets[i])
			}
		}
		p.Discard(ctx, partial, "upload-failed")
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	return assets, nil
}

// Discard queues the attachment objects of manifest for deletion. The message
// object is left alone: its key is derived from the Message-Id, so the next
// attempt at the same message overwrites it.
func (p *Publisher) Discard(ctx context.Context, manifest []StoredAsset, reason string) {
	var keys []string
	for _, a := range manifest {
		if a.Kind == KindAttachment {
			keys = append(keys, a.Key)
		}
	}
	if len(keys) == 0 {
		return
	}
	if p.orphans == nil {
		p.logger.WarnContext(ctx, "Orphaned objects left in bucket",
			slog.String("bucket", p.bucket),
			slog.Any("keys", keys),
			slog.String("reason", reason),
		)
		return
	}
	if err := p.orphans.PublishOrphans(ctx, p.bucket, keys, reason); err != nil {
		p.logger.ErrorContext(ctx, "Failed to publish orphaned objects",
			slog.String("bucket", p.bucket),
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Publisher) put(ctx context.Context, a StoredAsset) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.Bucket),
		Key:           aws.String(a.Key),
		Body:          bytes.NewReader(a.Content),
		ContentLength: aws.Int64(a.Size),
		ContentType:   aws.String(a.ContentType),
		Metadata: map[string]string{
			"original": url.PathEscape(a.Original),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", a.Key, err)
	}
	return nil
}
