// Package main implements the orphaned-object SQS consumer Lambda handler.
// It deletes objects the sync run wrote but could not link to a stored record.
package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/blobdelete"
)

var logger = logging.New()

// ObjectDeleter abstracts object deletion for dependency inversion.
type ObjectDeleter interface {
	Delete(ctx context.Context, bucket, key string) error
}

// handler implements the orphan cleanup SQS consumer logic.
type handler struct {
	deleter ObjectDeleter
}

// newHandler creates a new handler.
func newHandler(deleter ObjectDeleter) *handler {
	return &handler{deleter: deleter}
}

// handle processes an SQS event containing orphaned object batches.
func (h *handler) handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	tracer := tracing.Tracer("inbound-blob-delete")
	ctx, span := tracer.Start(ctx, "OrphanDeleteHandler")
	defer span.End()

	var failures []events.SQSBatchItemFailure

	for _, record := range event.Records {
		var msg blobdelete.OrphanMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			logger.ErrorContext(ctx, "Failed to parse SQS message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			continue
		}

		failed := false
		for _, key := range msg.Keys {
			if err := h.deleter.Delete(ctx, msg.Bucket, key); err != nil {
				logger.ErrorContext(ctx, "Failed to delete orphaned object",
					slog.String("bucket", msg.Bucket),
					slog.String("key", key),
					slog.String("reason", msg.Reason),
					slog.String("error", err.Error()),
				)
				failed = true
			}
		}

		if failed {
			failures = append(failures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	span.SetAttributes(
		attribute.Int("records", len(event.Records)),
		attribute.Int("failures", len(failures)),
	)
	logger.InfoContext(ctx, "Orphan delete batch completed",
		slog.Int("total", len(event.Records)),
		slog.Int("failures", len(failures)),
	)

	return events.SQSEventResponse{
		BatchItemFailures: failures,
	}, nil
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	h := newHandler(blobdelete.NewS3Deleter(s3.NewFromConfig(cfg)))
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
