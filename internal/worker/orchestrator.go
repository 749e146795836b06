package worker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"imageforge/internal/domain"
	"imageforge/internal/imaging"
	"imageforge/internal/infra"
	"imageforge/internal/queue"
	"imageforge/internal/storage"
	"imageforge/internal/synthesis"
)

// Synthesizer is the slice of the provider client the pipeline needs.
type Synthesizer interface {
	CreatePrediction(ctx context.Context, spec synthesis.Spec) (*synthesis.Prediction, error)
	WaitForCompletion(ctx context.Context, id string, ceiling time.Duration) (*synthesis.Prediction, error)
	DownloadOutputs(ctx context.Context, urls []string, perDownload time.Duration) ([]synthesis.Artifact, error)
}

// Refunder is the slice of the credit ledger the pipeline needs.
type Refunder interface {
	Refund(ctx context.Context, userID string, amount int, reason, generationID string) (int, error)
}

type Options struct {
	Concurrency      int
	MaxRetries       int
	LeaseDuration    time.Duration
	ReceiveWait      time.Duration
	RateLimitBackoff time.Duration
	PollCeiling      time.Duration
	ArtifactTimeout  time.Duration
	SignedURLTTL     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 10 * time.Minute
	}
	if o.ReceiveWait <= 0 {
		o.ReceiveWait = 60 * time.Second
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = 30 * time.Second
	}
	if o.PollCeiling <= 0 {
		o.PollCeiling = 300 * time.Second
	}
	if o.ArtifactTimeout <= 0 {
		o.ArtifactTimeout = 30 * time.Second
	}
	if o.SignedURLTTL <= 0 {
		o.SignedURLTTL = 7 * 24 * time.Hour
	}
}

// Orchestrator runs the generation pipeline: it leases job messages,
// drives them through synthesis, persists artifacts and settles the
// queue and the credit ledger.
type Orchestrator struct {
	gateway  queue.Gateway
	repo     domain.GenerationRepository
	ledger   Refunder
	synth    Synthesizer
	store    storage.BlobStore
	notifier *Notifier
	metrics  *Metrics
	logger   infra.Logger
	opts     Options
}

func NewOrchestrator(
	gateway queue.Gateway,
	repo domain.GenerationRepository,
	ledger Refunder,
	synth Synthesizer,
	store storage.BlobStore,
	notifier *Notifier,
	metrics *Metrics,
	logger infra.Logger,
	opts Options,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		gateway:  gateway,
		repo:     repo,
		ledger:   ledger,
		synth:    synth,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// Run receives and processes jobs until ctx is cancelled, then waits
// for in-flight jobs to finish. Leased messages whose processing is cut
// short reappear after lease expiry, so shutdown never loses work.
func (o *Orchestrator) Run(ctx context.Context) error {
	sem := make(chan struct{}, o.opts.Concurrency)
	var wg sync.WaitGroup

	o.logger.Info().
		Int("concurrency", o.opts.Concurrency).
		Int("max_retries", o.opts.MaxRetries).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			o.logger.Info().Msg("worker drained")
			return ctx.Err()
		case sem <- struct{}{}:
		}

		msg, lease, err := o.gateway.Receive(ctx, o.opts.LeaseDuration, o.opts.ReceiveWait)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				continue
			}
			o.metrics.receiveError()
			o.logger.Error().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if msg == nil {
			<-sem
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			o.handle(ctx, msg, lease)
		}()
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg *queue.JobMessage, lease *queue.Lease) {
	start := time.Now()
	o.metrics.jobStarted()
	log := o.logger.With().
		Str("generation_id", msg.GenerationID).
		Str("user_id", msg.UserID).
		Str("message_id", msg.MessageID).
		Int("attempt", o.policyAttempt(msg, lease)).
		Logger()

	gen, err := o.repo.BeginProcessing(ctx, msg.GenerationID)
	if err != nil {
		o.settleUnprocessable(ctx, msg, lease, log, err)
		o.metrics.jobFinished("skipped", time.Since(start))
		return
	}

	results, processingMS, err := o.synthesize(ctx, gen, msg, log)
	if err != nil {
		o.settleFailure(ctx, gen, msg, lease, log, err)
		o.metrics.jobFinished(outcomeLabel(err), time.Since(start))
		return
	}

	if err := o.repo.Complete(ctx, gen.ID, results, processingMS); err != nil {
		// The work is done but the record would not persist. Within the
		// budget a redelivery replays the job (BeginProcessing tolerates
		// the replay); a persistently broken store still dead-letters
		// once the budget runs out instead of replaying forever.
		log.Error().Err(err).Msg("persist completion failed")
		o.settleFailure(ctx, gen, msg, lease, log, err)
		o.metrics.jobFinished("persist_error", time.Since(start))
		return
	}
	if err := o.gateway.Complete(ctx, lease); err != nil {
		log.Warn().Err(err).Msg("queue settle failed after completion")
	}

	gen.Status = domain.StatusCompleted
	gen.Results = results
	o.notifier.Notify(ctx, msg.CallbackURL, gen)
	log.Info().Int64("processing_ms", processingMS).Int("outputs", len(results)).Msg("generation completed")
	o.metrics.jobFinished("completed", time.Since(start))
}

// settleUnprocessable handles messages whose record refuses to enter
// processing. A replay against an already completed or cancelled record
// is settled quietly; a missing record is poison; a store fault retries
// within the budget and then dead letters.
func (o *Orchestrator) settleUnprocessable(ctx context.Context, msg *queue.JobMessage, lease *queue.Lease, log infra.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Info().Err(err).Msg("record already settled, dropping redelivery")
		if cerr := o.gateway.Complete(ctx, lease); cerr != nil {
			log.Warn().Err(cerr).Msg("settle redelivery failed")
		}
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("no record for message, dead lettering")
		o.deadLetter(ctx, lease, log, "missing_record", err.Error())
	default:
		if o.policyAttempt(msg, lease) < o.opts.MaxRetries {
			log.Error().Err(err).Msg("begin processing failed, releasing for retry")
			o.abandon(ctx, lease, log)
			return
		}
		log.Error().Err(err).Msg("begin processing exhausted retries, dead lettering")
		// Terminal settlement is best effort: the same store fault that
		// blocked BeginProcessing may block it too.
		if gen, gerr := o.repo.GetByID(ctx, msg.GenerationID); gerr == nil {
			if refundDue, merr := o.repo.MarkFailed(ctx, gen.ID, err.Error()); merr != nil {
				log.Error().Err(merr).Msg("mark failed errored")
			} else if refundDue {
				if _, rerr := o.ledger.Refund(ctx, gen.UserID, gen.CostCredits, "retry_budget_exhausted", gen.ID); rerr != nil {
					log.Error().Err(rerr).Msg("refund failed")
				}
			}
		}
		o.deadLetter(ctx, lease, log, "retry_budget_exhausted", err.Error())
	}
}

// synthesize runs the provider round trip and artifact persistence,
// returning the stored results and the provider-side processing time.
func (o *Orchestrator) synthesize(ctx context.Context, gen *domain.Generation, msg *queue.JobMessage, log infra.Logger) ([]domain.GenerationResult, int64, error) {
	spec := synthesis.Spec{
		Prompt:         msg.Prompt,
		NegativePrompt: msg.NegativePrompt,
		Model:          msg.Model,
		Settings:       msg.Settings,
		SourceImageURL: msg.SourceImageURL,
	}

	started := time.Now()
	pred, err := o.synth.CreatePrediction(ctx, spec)
	if err != nil {
		return nil, 0, err
	}
	log.Debug().Str("prediction_id", pred.ID).Msg("prediction created")

	pred, err = o.synth.WaitForCompletion(ctx, pred.ID, o.opts.PollCeiling)
	if err != nil {
		return nil, 0, err
	}
	if err := synthesis.Outcome(pred); err != nil {
		return nil, 0, err
	}
	processingMS := time.Since(started).Milliseconds()
	if pred.Metrics.PredictTime > 0 {
		processingMS = int64(pred.Metrics.PredictTime * 1000)
	}

	artifacts, err := o.synth.DownloadOutputs(ctx, pred.Output, o.opts.ArtifactTimeout)
	if err != nil {
		return nil, 0, err
	}

	results := make([]domain.GenerationResult, 0, len(artifacts))
	for _, art := range artifacts {
		result, err := o.persistArtifact(ctx, gen, art)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, result)
	}
	return results, processingMS, nil
}

func (o *Orchestrator) persistArtifact(ctx context.Context, gen *domain.Generation, art synthesis.Artifact) (domain.GenerationResult, error) {
	decoded, err := imaging.Decode(art.Data)
	if err != nil {
		return domain.GenerationResult{}, err
	}

	ext := artifactExt(art.SourceURL)
	key := fmt.Sprintf("generations/%s/output_%d%s", gen.ID, art.Index, ext)
	storedKey, err := o.store.Put(ctx, key, art.Data)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("%w: store artifact: %v", domain.ErrPersistence, err)
	}

	result := domain.GenerationResult{
		StorageKey: storedKey,
		FileSize:   int64(len(art.Data)),
		Width:      decoded.Width,
		Height:     decoded.Height,
	}
	if url, err := o.store.SignedURL(storedKey, o.opts.SignedURLTTL); err == nil {
		result.URL = url
	}
	result.CDNURL = o.store.CDNURL(storedKey)

	// Thumbnail failure degrades the result, it never fails the job.
	if thumb, err := imaging.Thumbnail(decoded); err == nil {
		thumbKey := fmt.Sprintf("generations/%s/thumb_%d.jpg", gen.ID, art.Index)
		if storedThumb, err := o.store.Put(ctx, thumbKey, thumb); err == nil {
			if url, err := o.store.SignedURL(storedThumb, o.opts.SignedURLTTL); err == nil {
				result.ThumbnailURL = url
			}
		}
	}
	return result, nil
}

// settleFailure routes a pipeline error to the right queue and ledger
// outcome: back off on rate limits, retry transient faults within
// budget, dead letter and refund everything else.
func (o *Orchestrator) settleFailure(ctx context.Context, gen *domain.Generation, msg *queue.JobMessage, lease *queue.Lease, log infra.Logger, err error) {
	if errors.Is(err, domain.ErrProviderRateLimit) {
		log.Warn().Err(err).Dur("backoff", o.opts.RateLimitBackoff).Msg("provider rate limited, backing off")
		if aerr := o.gateway.AbandonAfter(ctx, lease, o.opts.RateLimitBackoff); aerr != nil {
			log.Error().Err(aerr).Msg("rate limit abandon failed")
		}
		return
	}

	attempt := o.policyAttempt(msg, lease)
	if domain.Retryable(err) && attempt < o.opts.MaxRetries {
		log.Warn().Err(err).Int("attempt", attempt).Msg("transient failure, releasing for retry")
		// Keep the record in processing but surface the attempt's error
		// so a stuck job is diagnosable before it settles.
		if rerr := o.repo.RecordError(ctx, gen.ID, err.Error()); rerr != nil {
			log.Warn().Err(rerr).Msg("record attempt error failed")
		}
		o.abandon(ctx, lease, log)
		return
	}

	reason := "retry_budget_exhausted"
	if !domain.Retryable(err) {
		reason = "permanent_failure"
	}
	log.Error().Err(err).Str("reason", reason).Msg("generation failed")

	refundDue, merr := o.repo.MarkFailed(ctx, gen.ID, err.Error())
	if merr != nil {
		log.Error().Err(merr).Msg("mark failed errored")
	}
	if refundDue {
		if _, rerr := o.ledger.Refund(ctx, gen.UserID, gen.CostCredits, reason, gen.ID); rerr != nil {
			log.Error().Err(rerr).Msg("refund failed")
		}
	}
	o.deadLetter(ctx, lease, log, reason, err.Error())

	gen.Status = domain.StatusFailed
	gen.ErrorMessage = err.Error()
	o.notifier.Notify(ctx, msg.CallbackURL, gen)
}

// policyAttempt counts how many deliveries have been charged against
// the retry budget. Manual resubmissions carry their history in the
// message; automatic redeliveries show up in the lease delivery count.
func (o *Orchestrator) policyAttempt(msg *queue.JobMessage, lease *queue.Lease) int {
	attempt := msg.Attempt + lease.DeliveryCount - 1
	if attempt < 1 {
		attempt = 1
	}
	return attempt
}

func (o *Orchestrator) abandon(ctx context.Context, lease *queue.Lease, log infra.Logger) {
	if err := o.gateway.Abandon(ctx, lease); err != nil {
		log.Error().Err(err).Msg("abandon failed")
	}
}

func (o *Orchestrator) deadLetter(ctx context.Context, lease *queue.Lease, log infra.Logger, reason, detail string) {
	if err := o.gateway.DeadLetter(ctx, lease, reason, detail); err != nil {
		log.Error().Err(err).Msg("dead letter failed")
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderRateLimit):
		return "rate_limited"
	case errors.Is(err, domain.ErrProviderTimeout):
		return "timeout"
	case !domain.Retryable(err):
		return "permanent_failure"
	default:
		return "transient_failure"
	}
}

func artifactExt(url string) string {
	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	default:
		return ".png"
	}
}
