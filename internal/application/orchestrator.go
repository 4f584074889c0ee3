package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// errShuttingDown is the cancellation cause for jobs interrupted by Run
// returning.
var errShuttingDown = errors.New("orchestrator shutting down")

// OrchestratorConfig configures a JobOrchestrator.
type OrchestratorConfig struct {
	// Workers is the number of jobs executed concurrently.
	Workers int

	// MaxPending caps non-terminal jobs. Submissions beyond it fail with
	// domain.ErrQueueFull.
	MaxPending int

	// JobTTL is how long a finished job stays queryable.
	JobTTL time.Duration

	// Heartbeat is the default idle interval between heartbeat events on a
	// progress stream.
	Heartbeat time.Duration

	// SubmitRate and SubmitBurst configure an optional token-bucket throttle
	// on submissions. A zero rate disables it.
	SubmitRate  float64
	SubmitBurst int

	// MaxDocumentBytes is the size ceiling for analysed documents. Zero
	// disables the check.
	MaxDocumentBytes int64

	// Cost derives each job's deadline.
	Cost CostModel

	// PublishTimeout bounds each mirrored event publish, retries included,
	// since publishes run on the evaluator goroutine. Zero means
	// DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// DefaultPublishTimeout is the per-event publish bound.
const DefaultPublishTimeout = 250 * time.Millisecond

// DefaultOrchestratorConfig returns the configuration used by tests and the
// CLI when nothing else is set.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Workers:          2,
		MaxPending:       16,
		JobTTL:           time.Hour,
		Heartbeat:        10 * time.Second,
		MaxDocumentBytes: 10 << 20,
		Cost:             DefaultCostModel(),
		PublishTimeout:   DefaultPublishTimeout,
	}
}

// SubmitRequest is one analysis submission.
type SubmitRequest struct {
	// DocumentRef is a reference previously returned by the document store.
	DocumentRef string

	// TargetGrade is required.
	TargetGrade domain.Optional[domain.Grade]

	Options domain.AnalysisOptions
	Mode    domain.ExecutionMode
}

// JobOrchestrator runs analyses as asynchronous jobs on a bounded worker
// pool. It owns the job table: each job is mutated only by the goroutine
// executing it and becomes read-only once terminal, until the janitor
// removes it after JobTTL.
type JobOrchestrator struct {
	cfg       OrchestratorConfig
	pipeline  *AnalysisPipeline
	store     ports.DocumentStore
	publisher ports.EventPublisher
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	limiter   *rate.Limiter
	now       func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	pending int
	closed  bool
	queue   []*job
	wake    chan struct{}
}

// NewJobOrchestrator creates an orchestrator. publisher, metrics and logger
// may be nil.
func NewJobOrchestrator(
	cfg OrchestratorConfig,
	pipeline *AnalysisPipeline,
	store ports.DocumentStore,
	publisher ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*JobOrchestrator, error) {
	if pipeline == nil || store == nil {
		return nil, fmt.Errorf("%w: orchestrator needs a pipeline and a document store", domain.ErrInvalidConfiguration)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1", domain.ErrInvalidConfiguration)
	}
	if cfg.MaxPending < 1 {
		return nil, fmt.Errorf("%w: max pending must be at least 1", domain.ErrInvalidConfiguration)
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Cost == (CostModel{}) {
		cfg.Cost = DefaultCostModel()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &JobOrchestrator{
		cfg:       cfg,
		pipeline:  pipeline,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		jobs:      make(map[string]*job),
		wake:      make(chan struct{}, 1),
	}
	if cfg.SubmitRate > 0 {
		burst := max(cfg.SubmitBurst, 1)
		o.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}
	return o, nil
}

// Run starts the workers and the janitor and blocks until ctx is done.
// Jobs still queued or running when it returns end in error.
func (o *JobOrchestrator) Run(ctx context.Context) error {
	// Workers see errShuttingDown as the cause rather than the parent's.
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(errShuttingDown)

	g, gctx := errgroup.WithContext(runCtx)
	for range o.cfg.Workers {
		g.Go(func() error {
			o.worker(gctx)
			return nil
		})
	}
	if o.cfg.JobTTL > 0 {
		g.Go(func() error {
			o.janitor(gctx)
			return nil
		})
	}

	<-ctx.Done()
	cancel(errShuttingDown)
	err := g.Wait()

	o.mu.Lock()
	o.closed = true
	stranded := o.queue
	o.queue = nil
	o.mu.Unlock()
	for _, j := range stranded {
		o.finish(j, nil, fmt.Errorf("%w: %w", domain.ErrCanceled, errShuttingDown))
	}
	return err
}

func (o *JobOrchestrator) worker(ctx context.Context) {
	for {
		if j := o.dequeue(); j != nil {
			o.runJob(ctx, j)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}
	}
}

// enqueue appends j to the queue. The caller holds o.mu.
func (o *JobOrchestrator) enqueue(j *job) {
	o.queue = append(o.queue, j)
	o.signal()
}

// dequeue pops the oldest job that is still waiting. Jobs canceled while
// queued are skipped.
func (o *JobOrchestrator) dequeue() *job {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) > 0 {
		j := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		if j.snapshot().Status == domain.JobQueued {
			if len(o.queue) > 0 {
				o.signal()
			}
			return j
		}
	}
	return nil
}

func (o *JobOrchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *JobOrchestrator) janitor(ctx context.Context) {
	interval := max(o.cfg.JobTTL/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.Collect(); n > 0 {
				o.logger.Debug("collected expired jobs", zap.Int("count", n))
			}
		}
	}
}

// Submit validates req and creates a job. In ModeQueued it returns as soon
// as the job is queued; in ModeInline it runs the job on the calling
// goroutine and returns once it is terminal. Either way the job id is
// returned and the outcome is read through Result.
func (o *JobOrchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	target, err := o.validate(req)
	if err != nil {
		o.reject("invalid")
		return "", err
	}

	if o.limiter != nil && !o.limiter.Allow() {
		o.reject("rate")
		return "", fmt.Errorf("%w: submission rate exceeded", domain.ErrQueueFull)
	}

	info, err := o.store.Stat(ctx, req.DocumentRef)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		o.reject("invalid")
		verr := domain.NewValidationError("submission")
		verr.AddError(fmt.Sprintf("unknown document reference %q", req.DocumentRef))
		return "", verr
	case err != nil:
		o.reject("storage")
		var se *domain.StorageError
		if errors.As(err, &se) {
			return "", err
		}
		return "", domain.NewStorageError("stat", req.DocumentRef, err)
	}
	if o.cfg.MaxDocumentBytes > 0 && info.Size > o.cfg.MaxDocumentBytes {
		o.reject("too_large")
		return "", fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrPayloadTooLarge, info.Size, o.cfg.MaxDocumentBytes)
	}

	created := o.now()
	j := newJob(uuid.NewString(), req, target, created, created.Add(o.cfg.Cost.Budget(info.Size, req.Options)), o)

	o.mu.Lock()
	if req.Mode == domain.ModeQueued && o.closed {
		o.mu.Unlock()
		o.reject("closed")
		return "", domain.NewStorageError("enqueue", j.id, errShuttingDown)
	}
	if o.pending >= o.cfg.MaxPending {
		o.mu.Unlock()
		o.reject("queue_full")
		return "", domain.ErrQueueFull
	}
	o.pending++
	o.jobs[j.id] = j
	if req.Mode == domain.ModeQueued {
		o.enqueue(j)
	}
	pending := o.pending
	o.mu.Unlock()
	o.metrics.RecordGauge(ports.MetricQueueDepth, float64(pending), nil)

	o.logger.Info("job submitted",
		zap.String("job_id", j.id),
		zap.String("document", req.DocumentRef),
		zap.Stringer("target_grade", target),
		zap.Bool("run_observed", req.Options.RunObserved),
		zap.Stringer("mode", req.Mode),
		zap.Time("deadline", j.deadline),
	)

	if req.Mode == domain.ModeInline {
		o.runJob(ctx, j)
	}
	return j.id, nil
}

func (o *JobOrchestrator) validate(req SubmitRequest) (domain.Grade, error) {
	verr := domain.NewValidationError("submission")
	if req.DocumentRef == "" {
		verr.AddError("missing score")
	}
	target, ok := req.TargetGrade.Get()
	switch {
	case !ok:
		verr.AddError("missing target grade")
	case math.IsNaN(float64(target)) || target < domain.MinGrade || target > domain.MaxGrade:
		verr.AddError(fmt.Sprintf("target grade %s outside [%s, %s]", target, domain.MinGrade, domain.MaxGrade))
	}
	if req.Options.RunObserved && len(req.Options.ObservedGrades) > 0 {
		if err := req.Options.ObservedGrades.Validate(); err != nil {
			verr.AddError(err.Error())
		}
	}
	if verr.HasErrors() {
		return 0, verr
	}
	return target, nil
}

func (o *JobOrchestrator) reject(reason string) {
	o.metrics.RecordCounter(ports.MetricSubmitRejected, 1, map[string]string{"reason": reason})
}

// runJob executes one job to a terminal state. parent bounds the job in
// addition to its own deadline.
func (o *JobOrchestrator) runJob(parent context.Context, j *job) {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	ctx, cancelDeadline := context.WithDeadline(ctx, j.deadline)
	defer cancelDeadline()

	if !j.start(cancel) {
		// Canceled while queued.
		return
	}
	log := o.logger.With(zap.String("job_id", j.id))
	log.Info("job started")

	doc, err := o.store.Load(ctx, j.req.DocumentRef)
	if err != nil {
		o.finish(j, nil, o.classify(ctx, j, err))
		return
	}

	type outcome struct {
		report *domain.AggregateReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := o.pipeline.Run(ctx, RunRequest{
			Doc:         doc,
			TargetGrade: j.target,
			Options:     j.req.Options,
		}, j)
		done <- outcome{report: report, err: err}
	}()

	// An evaluator that ignores its context cannot hold the job past its
	// deadline; its late output is discarded.
	select {
	case out := <-done:
		if out.err != nil {
			o.finish(j, nil, o.classify(ctx, j, out.err))
			return
		}
		if ctx.Err() != nil {
			o.finish(j, nil, o.classify(ctx, j, ctx.Err()))
			return
		}
		o.finish(j, out.report, nil)
	case <-ctx.Done():
		o.finish(j, nil, o.classify(ctx, j, ctx.Err()))
	}
}

// classify maps a pipeline error onto the job error taxonomy.
func (o *JobOrchestrator) classify(ctx context.Context, j *job, err error) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return &domain.TimeoutError{JobID: j.id, Deadline: j.deadline}
	case errors.Is(cause, domain.ErrCanceled):
		return domain.ErrCanceled
	case errors.Is(cause, errShuttingDown):
		return fmt.Errorf("%w: %w", domain.ErrCanceled, errShuttingDown)
	}
	return err
}

// finish moves j to its terminal state, releases its capacity slot and
// emits the done event. It is a no-op for jobs already terminal.
func (o *JobOrchestrator) finish(j *job, report *domain.AggregateReport, err error) {
	o.settle(j, report, err, false)
}

// settle is finish with an optional queued-only guard. It reports whether
// this call made the job terminal.
func (o *JobOrchestrator) settle(j *job, report *domain.AggregateReport, err error, queuedOnly bool) bool {
	finished := o.now()
	if !j.complete(report, err, finished, queuedOnly) {
		return false
	}

	o.mu.Lock()
	o.pending--
	pending := o.pending
	o.mu.Unlock()
	o.metrics.RecordGauge(ports.MetricQueueDepth, float64(pending), nil)

	info := j.snapshot()
	labels := map[string]string{"status": string(info.Status)}
	o.metrics.RecordCounter(ports.MetricJobsTotal, 1, labels)
	o.metrics.RecordLatency(ports.MetricJobDuration, finished.Sub(info.CreatedAt), labels)

	log := o.logger.With(zap.String("job_id", j.id), zap.Duration("elapsed", finished.Sub(info.CreatedAt)))
	if err != nil {
		log.Warn("job failed", zap.Error(err))
	} else {
		log.Info("job completed", zap.Any("overall", report.Overall))
	}
	return true
}

// publish mirrors an event to the external bus. Failures never affect the
// job.
func (o *JobOrchestrator) publish(ev domain.Event) {
	if o.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PublishTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, ev); err != nil {
		o.metrics.RecordCounter(ports.MetricEventPublishErrors, 1, nil)
		o.logger.Debug("event publish failed", zap.String("job_id", ev.JobID), zap.Error(err))
	}
}

// Cancel stops a queued or running job; it ends in error with
// domain.ErrCanceled. Canceling a terminal job has no effect.
func (o *JobOrchestrator) Cancel(id string) error {
	j, err := o.get(id)
	if err != nil {
		return err
	}
	// The queued check and the terminal transition share the job lock, so a
	// worker starting the job concurrently either sees it canceled or owns it
	// and is signaled below.
	if o.settle(j, nil, domain.ErrCanceled, true) {
		return nil
	}
	j.cancelRunning()
	return nil
}

// Result returns the result view of a job.
func (o *JobOrchestrator) Result(id string) (domain.JobResult, error) {
	j, err := o.get(id)
	if err != nil {
		return domain.JobResult{}, err
	}
	return j.result(), nil
}

// Info returns a snapshot of a job record.
func (o *JobOrchestrator) Info(id string) (domain.JobInfo, error) {
	j, err := o.get(id)
	if err != nil {
		return domain.JobInfo{}, err
	}
	return j.snapshot(), nil
}

// Stream returns the job's progress events: every event so far, then live
// ones as they happen, with a heartbeat event whenever nothing happened for
// heartbeat (the configured default when zero). The channel closes after the
// done event or when ctx ends.
func (o *JobOrchestrator) Stream(ctx context.Context, id string, heartbeat time.Duration) (<-chan domain.Event, error) {
	j, err := o.get(id)
	if err != nil {
		return nil, err
	}
	if heartbeat <= 0 {
		heartbeat = o.cfg.Heartbeat
	}

	out := make(chan domain.Event)
	go func() {
		defer close(out)
		timer := time.NewTimer(heartbeat)
		defer timer.Stop()

		next := 0
		for {
			events, changed, terminal := j.since(next)
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			next += len(events)
			if terminal {
				return
			}
			if len(events) > 0 {
				timer.Reset(heartbeat)
			}

			select {
			case <-changed:
			case <-timer.C:
				select {
				case out <- domain.Event{Type: domain.EventHeartbeat, JobID: j.id, Time: o.now()}:
				case <-ctx.Done():
					return
				}
				timer.Reset(heartbeat)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Collect removes terminal jobs older than JobTTL and returns how many were
// removed. The janitor calls it periodically.
func (o *JobOrchestrator) Collect() int {
	if o.cfg.JobTTL <= 0 {
		return 0
	}
	cutoff := o.now().Add(-o.cfg.JobTTL)

	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	for id, j := range o.jobs {
		info := j.snapshot()
		if info.Status.IsTerminal() && info.FinishedAt.Before(cutoff) {
			delete(o.jobs, id)
			removed++
		}
	}
	return removed
}

// Pending returns the number of non-terminal jobs.
func (o *JobOrchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

func (o *JobOrchestrator) get(id string) (*job, error) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return j, nil
}
