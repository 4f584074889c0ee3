package application

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// job is the orchestrator's record of one submission. The executing worker
// is its only writer; readers go through the snapshot accessors.
type job struct {
	id       string
	req      SubmitRequest
	target   domain.Grade
	deadline time.Time
	orch     *JobOrchestrator

	mu      sync.Mutex
	info    domain.JobInfo
	events  []domain.Event
	changed chan struct{}
	report  *domain.AggregateReport
	err     error
	cancel  context.CancelCauseFunc
}

func newJob(id string, req SubmitRequest, target domain.Grade, created, deadline time.Time, orch *JobOrchestrator) *job {
	return &job{
		id:       id,
		req:      req,
		target:   target,
		deadline: deadline,
		orch:     orch,
		info: domain.JobInfo{
			ID:          id,
			Status:      domain.JobQueued,
			Stage:       domain.StagePending,
			Mode:        req.Mode,
			TargetGrade: target,
			CreatedAt:   created,
			Deadline:    deadline,
		},
		changed: make(chan struct{}),
	}
}

// start moves a queued job to running. It reports false if the job was
// canceled before it could start.
func (j *job) start(cancel context.CancelCauseFunc) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.info.Status != domain.JobQueued {
		return false
	}
	j.info.Status = domain.JobRunning
	j.cancel = cancel
	return true
}

// cancelRunning signals the executing worker. It has no effect on a job
// that is not running.
func (j *job) cancelRunning() {
	j.mu.Lock()
	cancel := j.cancel
	running := j.info.Status == domain.JobRunning
	j.mu.Unlock()
	if running && cancel != nil {
		cancel(domain.ErrCanceled)
	}
}

// complete records the terminal state and appends the done event. It
// reports false if the job was already terminal, or, with queuedOnly, if a
// worker has already started it.
func (j *job) complete(report *domain.AggregateReport, err error, now time.Time, queuedOnly bool) bool {
	j.mu.Lock()
	if j.info.Status.IsTerminal() || (queuedOnly && j.info.Status != domain.JobQueued) {
		j.mu.Unlock()
		return false
	}
	j.info.FinishedAt = now
	done := domain.Event{Type: domain.EventDone}
	if err != nil {
		j.info.Status = domain.JobError
		j.info.Error = err.Error()
		if !j.info.Stage.IsTerminal() {
			j.info.Stage = domain.StageFailed
		}
		j.err = err
		done.Error = err.Error()
	} else {
		j.info.Status = domain.JobDone
		j.info.Stage = domain.StageDone
		j.report = report
	}
	done.Status = j.info.Status
	ev := j.appendLocked(done, now)
	j.mu.Unlock()

	j.orch.publish(ev)
	return true
}

// Emit implements ProgressSink. Events arriving after the job is terminal,
// for example from an evaluator that outlived its deadline, are dropped.
func (j *job) Emit(ev domain.Event) {
	now := j.orch.now()
	j.mu.Lock()
	if j.info.Status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	ev = j.appendLocked(ev, now)
	j.mu.Unlock()

	j.orch.publish(ev)
}

// SetStage implements ProgressSink.
func (j *job) SetStage(stage domain.Stage) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.info.Status.IsTerminal() {
		return
	}
	j.info.Stage = stage
}

func (j *job) appendLocked(ev domain.Event, now time.Time) domain.Event {
	ev.JobID = j.id
	ev.Seq = len(j.events) + 1
	if ev.Time.IsZero() {
		ev.Time = now
	}
	j.events = append(j.events, ev)
	close(j.changed)
	j.changed = make(chan struct{})
	return ev
}

// since returns events from index next on, a channel closed on the next
// change, and whether the job is terminal (its done event is then included
// in the returned events or was returned earlier).
func (j *job) since(next int) ([]domain.Event, <-chan struct{}, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var events []domain.Event
	if next < len(j.events) {
		events = slices.Clone(j.events[next:])
	}
	return events, j.changed, j.info.Status.IsTerminal()
}

func (j *job) snapshot() domain.JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.info
}

func (j *job) result() domain.JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	res := domain.JobResult{Done: j.info.Status.IsTerminal()}
	if j.err != nil {
		msg := j.err.Error()
		res.Error = &msg
	}
	if j.info.Status == domain.JobDone {
		res.Result = j.report
	}
	return res
}

var _ ProgressSink = (*job)(nil)
