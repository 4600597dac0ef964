// Package main implements the scheduled inbound mailbox sync Lambda handler.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/config"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/ingest"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/metrics"
)

const pushJob = "inbound-sync"

var logger = logging.New()

// Syncer runs one sync.
type Syncer interface {
	Run(ctx context.Context) ingest.Result
}

// SyncerFactory builds a Syncer for a loaded configuration. The returned
// cleanup func is called once the run has finished.
type SyncerFactory func(ctx context.Context, cfg *config.Config) (Syncer, func(), error)

// handler implements the inbound sync logic.
type handler struct {
	params    config.ParameterStore
	getenv    func(string) string
	newSyncer SyncerFactory
	pushFunc  func(ctx context.Context, url string) error
}

// newHandler creates a new handler.
func newHandler(params config.ParameterStore, getenv func(string) string, newSyncer SyncerFactory) *handler {
	return &handler{
		params:    params,
		getenv:    getenv,
		newSyncer: newSyncer,
	}
}

// handle runs one sync. The triggering event is ignored.
func (h *handler) handle(ctx context.Context, _ json.RawMessage) (events.APIGatewayProxyResponse, error) {
	tracer := tracing.Tracer("inbound-sync")
	ctx, span := tracer.Start(ctx, "InboundSyncHandler")
	defer span.End()

	result := h.sync(ctx)

	span.SetAttributes(
		attribute.Bool("success", result.Success),
		attribute.String("error", string(result.Error)),
	)

	return response(result), nil
}

func (h *handler) sync(ctx context.Context) ingest.Result {
	cfg, err := config.Load(ctx, h.params, h.getenv)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load configuration", slog.String("error", err.Error()))
		return ingest.Failure(ingest.Classify(err))
	}

	syncer, cleanup, err := h.newSyncer(ctx, cfg)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build sync run", slog.String("error", err.Error()))
		return ingest.Failure(ingest.Classify(err))
	}
	defer cleanup()

	result := syncer.Run(ctx)

	if cfg.PushgatewayURL != "" && h.pushFunc != nil {
		if err := h.pushFunc(ctx, cfg.PushgatewayURL); err != nil {
			logger.WarnContext(ctx, "Failed to push metrics",
				slog.String("url", cfg.PushgatewayURL),
				slog.String("error", err.Error()),
			)
		}
	}

	return result
}

// response wraps result as an HTTP-shaped reply.
func response(result ingest.Result) events.APIGatewayProxyResponse {
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	body, _ := json.Marshal(result)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func main() {
	ctx := context.Background()

	tp, err := tracing.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize tracer provider", slog.String("error", err.Error()))
		panic(err)
	}
	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		xray.Propagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to load AWS config", slog.String("error", err.Error()))
		panic(err)
	}

	// Instrument AWS SDK clients with OTel tracing
	otelaws.AppendMiddlewares(&cfg.APIOptions)

	s3Client := s3.NewFromConfig(cfg)
	sqsClient := sqs.NewFromConfig(cfg)
	params := config.NewSSMStore(ssm.NewFromConfig(cfg))
	m := metrics.New()
	pushClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	factory := func(ctx context.Context, c *config.Config) (Syncer, func(), error) {
		clients := ingest.Clients{S3: s3Client, SQS: sqsClient}
		cleanup := func() {}
		if c.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
			clients.Redis = rdb
			cleanup = func() { _ = rdb.Close() }
		}
		runner, err := ingest.FromConfig(c, clients, m, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return runner, cleanup, nil
	}

	h := newHandler(params, os.Getenv, factory)
	h.pushFunc = func(ctx context.Context, url string) error {
		return m.Push(ctx, url, pushJob, pushClient)
	}
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
