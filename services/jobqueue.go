package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spectra/types"
)

// ErrQueueClosed is returned for submissions made after Close.
var ErrQueueClosed = errors.New("job queue closed")

// Task is one unit of queued work.
type Task func(ctx context.Context) (any, error)

// EventPublisher receives job and worker lifecycle events.
type EventPublisher interface {
	Publish(msg types.EventMessage)
}

// Job is the handle returned by Submit. It resolves exactly once.
type Job struct {
	id    string
	queue types.QueueName
	label string
	task  Task

	done   chan struct{}
	result any
	err    error

	mu          sync.Mutex
	status      types.JobStatus
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func (j *Job) ID() string { return j.id }

// Done is closed once the job has resolved.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job resolves or ctx ends.
func (j *Job) Wait(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Info returns a snapshot of the job.
func (j *Job) Info() types.JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := types.JobInfo{
		ID:          j.id,
		Queue:       j.queue,
		Label:       j.label,
		Status:      j.status,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
	if j.status == types.JobStatusFailed && j.err != nil {
		info.Error = j.err.Error()
	}
	return info
}

func (j *Job) markStarted() {
	j.mu.Lock()
	now := time.Now()
	j.status = types.JobStatusProcessing
	j.startedAt = &now
	j.mu.Unlock()
}

func (j *Job) resolve(result any, err error) {
	j.settle(result, err)
	close(j.done)
}

// settle records the outcome without waking waiters.
func (j *Job) settle(result any, err error) {
	j.mu.Lock()
	now := time.Now()
	j.result = result
	j.err = err
	j.completedAt = &now
	if err != nil {
		j.status = types.JobStatusFailed
	} else {
		j.status = types.JobStatusCompleted
	}
	j.mu.Unlock()
}

// JobQueue runs submitted tasks in FIFO order with at most concurrency of
// them running at once. The pending list is unbounded.
type JobQueue interface {
	Name() types.QueueName
	Submit(label string, task Task) *Job
	Running() int
	Get(id string) (*Job, bool)
	Jobs() []types.JobInfo
	Stats() types.QueueStats
	Close(ctx context.Context) error
}

// jobQueue is the in-memory JobQueue.
type jobQueue struct {
	name        types.QueueName
	concurrency int
	logger      *zap.Logger
	events      EventPublisher

	mu        sync.Mutex
	pending   []*Job
	active    map[string]*Job
	running   int
	completed int64
	failed    int64
	closed    bool
	idle      *sync.Cond
}

// NewJobQueue creates a queue. events may be nil.
func NewJobQueue(name types.QueueName, concurrency int, logger *zap.Logger, events EventPublisher) JobQueue {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &jobQueue{
		name:        name,
		concurrency: concurrency,
		logger:      logger.With(zap.String("queue", string(name))),
		events:      events,
		active:      make(map[string]*Job),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's job class.
func (q *jobQueue) Name() types.QueueName { return q.name }

// Submit appends task to the queue and returns its handle immediately.
func (q *jobQueue) Submit(label string, task Task) *Job {
	job := &Job{
		id:        uuid.New().String(),
		queue:     q.name,
		label:     label,
		task:      task,
		done:      make(chan struct{}),
		status:    types.JobStatusQueued,
		createdAt: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		job.resolve(nil, ErrQueueClosed)
		return job
	}
	q.pending = append(q.pending, job)
	q.active[job.id] = job
	q.mu.Unlock()

	q.publish(types.EventJobQueued, job, "")
	q.dispatch()
	return job
}

// dispatch starts pending jobs while there is spare capacity.
func (q *jobQueue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.running < q.concurrency && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		go q.run(job)
	}
}

func (q *jobQueue) run(job *Job) {
	job.markStarted()
	q.publish(types.EventJobStarted, job, "")
	start := time.Now()

	result, err := q.execute(job)

	job.settle(result, err)
	if err != nil {
		q.logger.Warn("job failed",
			zap.String("job_id", job.id),
			zap.String("label", job.label),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		q.publish(types.EventJobFailed, job, err.Error())
	} else {
		q.logger.Debug("job completed",
			zap.String("job_id", job.id),
			zap.String("label", job.label),
			zap.Duration("elapsed", time.Since(start)))
		q.publish(types.EventJobCompleted, job, "")
	}

	// Close waits on running, so it drops only once reporting is done.
	q.mu.Lock()
	q.running--
	delete(q.active, job.id)
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.idle.Broadcast()
	q.mu.Unlock()
	close(job.done)

	q.dispatch()
}

// execute runs the task, converting a panic into an error so one bad task
// cannot take the queue down.
func (q *jobQueue) execute(job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", job.label, r)
		}
	}()
	return job.task(context.Background())
}

func (q *jobQueue) publish(eventType string, job *Job, message string) {
	if q.events == nil {
		return
	}
	info := job.Info()
	q.events.Publish(types.EventMessage{
		Type:      eventType,
		Topic:     string(q.name),
		JobID:     job.id,
		Status:    string(info.Status),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Running returns the number of tasks currently executing.
func (q *jobQueue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Get returns a queued or running job by id.
func (q *jobQueue) Get(id string) (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.active[id]
	return job, ok
}

// Jobs returns snapshots of all queued and running jobs.
func (q *jobQueue) Jobs() []types.JobInfo {
	q.mu.Lock()
	jobs := make([]*Job, 0, len(q.active))
	for _, job := range q.active {
		jobs = append(jobs, job)
	}
	q.mu.Unlock()

	infos := make([]types.JobInfo, 0, len(jobs))
	for _, job := range jobs {
		infos = append(infos, job.Info())
	}
	return infos
}

// Stats returns the queue counters.
func (q *jobQueue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return types.QueueStats{
		Name:        q.name,
		Concurrency: q.concurrency,
		Pending:     len(q.pending),
		Running:     q.running,
		Completed:   q.completed,
		Failed:      q.failed,
	}
}

// Close stops dispatching, fails every pending job with ErrQueueClosed and
// waits for running tasks to finish or ctx to end.
func (q *jobQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	dropped := q.pending
	q.pending = nil
	for _, job := range dropped {
		delete(q.active, job.id)
	}
	q.mu.Unlock()

	for _, job := range dropped {
		job.resolve(nil, ErrQueueClosed)
	}

	finished := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.running > 0 {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
