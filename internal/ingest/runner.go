package ingest

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/blob"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/mailbox"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/message"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/record"
)

// Mailbox is the source mailbox of a run.
type Mailbox interface {
	Lock(ctx context.Context) (func(context.Context), error)
	Count(ctx context.Context) (uint32, error)
	Messages(ctx context.Context) iter.Seq2[mailbox.RawMessage, error]
	mailbox.Mutator
}

// Publisher writes the assets of one original message.
type Publisher interface {
	Publish(ctx context.Context, msg *message.OriginalMessage) ([]blob.StoredAsset, error)
	Discard(ctx context.Context, manifest []blob.StoredAsset, reason string)
}

// Store persists records. It is opened once per run.
type Store interface {
	Persist(ctx context.Context, rec *record.EmailRecord) error
	Close(ctx context.Context) error
}

// StoreOpener opens the Store for a run.
type StoreOpener func(ctx context.Context) (Store, error)

// Observer receives run and message outcomes.
type Observer interface {
	ObserveRun(outcome string, d time.Duration)
	MessageProcessed()
	MessageFailed(reason string)
	AssetsPublished(n int)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Mailbox     Mailbox
	Publisher   Publisher
	OpenStore   StoreOpener
	Observer    Observer
	Policy      ErrorPolicy
	TrashFolder string
	Logger      *slog.Logger
}

// Runner executes sync runs.
type Runner struct {
	mailbox   Mailbox
	publisher Publisher
	openStore StoreOpener
	observer  Observer
	policy    ErrorPolicy
	trash     string
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewRunner creates a Runner from deps.
func NewRunner(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Runner{
		mailbox:   deps.Mailbox,
		publisher: deps.Publisher,
		openStore: deps.OpenStore,
		observer:  observer,
		policy:    deps.Policy,
		trash:     deps.TrashFolder,
		logger:    logger,
		tracer:    tracing.Tracer("inbound-sync"),
		now:       time.Now,
	}
}

// Run performs one sync and reports its outcome. It never panics on client
// failures and always releases the mailbox it locked.
func (r *Runner) Run(ctx context.Context) Result {
	start := r.now()
	runID := uuid.NewString()

	ctx, span := r.tracer.Start(ctx, "InboundSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("error_policy", r.policy.String()),
	)

	rn := &run{
		Runner: r,
		logger: r.logger.With(slog.String("run_id", runID)),
		state:  StateIdle,
	}
	result := rn.execute(ctx)

	span.SetAttributes(
		attribute.Bool("success", result.Success),
		attribute.Int("processed_count", result.ProcessedCount),
		attribute.Int("failed_count", result.FailedCount),
	)
	if !result.Success {
		span.SetStatus(codes.Error, string(result.Error))
	}

	elapsed := r.now().Sub(start)
	r.observer.ObserveRun(result.Outcome(), elapsed)
	rn.logger.InfoContext(ctx, "Sync run completed",
		slog.Bool("success", result.Success),
		slog.Int("processed", result.ProcessedCount),
		slog.Int("failed", result.FailedCount),
		slog.String("error", string(result.Error)),
		slog.Duration("duration", elapsed),
	)
	return result
}

// run is the state of a single execution.
type run struct {
	*Runner
	logger *slog.Logger
	state  State
}

func (rn *run) enter(ctx context.Context, s State) {
	rn.logger.DebugContext(ctx, "Run state changed",
		slog.String("from", string(rn.state)),
		slog.String("to", string(s)),
	)
	rn.state = s
}

func (rn *run) execute(ctx context.Context) Result {
	defer rn.enter(ctx, StateDone)

	release, err := rn.mailbox.Lock(ctx)
	if err != nil {
		rn.logger.ErrorContext(ctx, "Failed to lock mailbox", slog.String("error", err.Error()))
		return Failure(Classify(err))
	}
	rn.enter(ctx, StateLocked)
	defer func() {
		release(context.WithoutCancel(ctx))
		rn.enter(ctx, StateLoggedOut)
	}()

	count, err := rn.mailbox.Count(ctx)
	if err != nil {
		rn.logger.ErrorContext(ctx, "Failed to read mailbox status", slog.String("error", err.Error()))
		return Failure(Classify(err))
	}
	if count == 0 {
		rn.logger.InfoContext(ctx, "No messages to sync")
		return Result{Success: true}
	}

	store, err := rn.openStore(ctx)
	if err != nil {
		rn.logger.ErrorContext(ctx, "Failed to connect to database", slog.String("error", err.Error()))
		return Failure(Classify(err))
	}
	rn.enter(ctx, StateConnected)
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			rn.logger.WarnContext(ctx, "Failed to close database connection", slog.String("error", err.Error()))
		}
	}()

	rn.logger.InfoContext(ctx, "Syncing mailbox", slog.Int("messages", int(count)))
	rn.enter(ctx, StateIterating)
	processed, failed, firstErr := rn.iterate(ctx, store)

	rn.enter(ctx, StateFinalizing)
	result := Result{ProcessedCount: len(processed), FailedCount: failed}
	if err := mailbox.Finalize(ctx, rn.mailbox, processed, rn.trash); err != nil {
		rn.logger.ErrorContext(ctx, "Failed to finalize processed messages",
			slog.Int("messages", len(processed)),
			slog.String("error", err.Error()),
		)
		result.Error = ReasonFinalize
		return result
	}
	if firstErr != nil {
		result.Error = Classify(firstErr)
		return result
	}
	result.Success = true
	return result
}

// iterate processes fetched messages in order and returns the UIDs that
// completed both publication and persistence.
func (rn *run) iterate(ctx context.Context, store Store) ([]imap.UID, int, error) {
	var (
		processed []imap.UID
		failed    int
		firstErr  error
	)
	seen := make(map[imap.UID]bool)

	for raw, err := range rn.mailbox.Messages(ctx) {
		if err != nil {
			rn.logger.ErrorContext(ctx, "Failed to fetch messages", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if seen[raw.UID] {
			rn.logger.WarnContext(ctx, "Skipping duplicate message", slog.Any("uid", raw.UID))
			continue
		}
		seen[raw.UID] = true

		if err := rn.process(ctx, store, raw); err != nil {
			failed++
			reason := Classify(err)
			rn.observer.MessageFailed(string(reason))
			rn.logger.ErrorContext(ctx, "Failed to process message",
				slog.Any("uid", raw.UID),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			if rn.policy == Abort {
				break
			}
			continue
		}

		processed = append(processed, raw.UID)
		rn.observer.MessageProcessed()
	}

	return processed, failed, firstErr
}

func (rn *run) process(ctx context.Context, store Store, raw mailbox.RawMessage) error {
	ctx, span := rn.tracer.Start(ctx, "ProcessMessage")
	defer span.End()
	span.SetAttributes(attribute.Int64("uid", int64(raw.UID)))

	orig, err := message.Extract(raw.Source)
	if err != nil {
		spanError(span, err)
		return err
	}
	span.SetAttributes(attribute.String("message_id", orig.MessageID))

	manifest, err := rn.publisher.Publish(ctx, orig)
	if err != nil {
		spanError(span, err)
		return err
	}
	rn.observer.AssetsPublished(len(manifest))

	if err := store.Persist(ctx, record.New(orig, manifest)); err != nil {
		spanError(span, err)
		if record.NotWritten(err) {
			rn.publisher.Discard(ctx, manifest, "persist-failed")
		}
		return err
	}

	rn.logger.InfoContext(ctx, "Message stored",
		slog.Any("uid", raw.UID),
		slog.String("message_id", orig.MessageID),
		slog.Int("assets", len(manifest)),
	)
	return nil
}

func spanError(span trace.Span, err error) {
	tracing.RecordError(span, err)
	span.SetStatus(codes.Error, err.Error())
}

type nopObserver struct{}

func (nopObserver) ObserveRun(string, time.Duration) {}
func (nopObserver) MessageProcessed()                {}
func (nopObserver) MessageFailed(string)             {}
func (nopObserver) AssetsPublished(int)              {}
