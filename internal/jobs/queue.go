package jobs

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/google/uuid"
)

// Executor converts one job. A returned error marks the job failed; otherwise
// the result decides between success and skipped.
type Executor func(ctx context.Context, job *ConversionJob) (Result, error)

type Option func(*Queue)

// WithMaxJobs bounds how many finished jobs are kept for listing.
func WithMaxJobs(n int) Option {
	return func(q *Queue) {
		q.maxJobs = n
	}
}

// Queue runs upload conversions on a fixed worker pool. Jobs for a file that
// is already pending or running are deduplicated.
type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	mu      sync.RWMutex
	jobs    map[string]*ConversionJob
	dedupe  map[string]string
	started bool
	pending chan string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(workerCount int, store Store, opts ...Option) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     500,
		store:       store,
		jobs:        make(map[string]*ConversionJob),
		dedupe:      make(map[string]string),
		pending:     make(chan string, 1024),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.hydrate(context.Background())
	return q
}

func (q *Queue) Enqueue(req EnqueueRequest) (*ConversionJob, bool) {
	key := req.Payload.AttachedFile
	now := time.Now()

	q.mu.Lock()
	if id, ok := q.dedupe[key]; ok && key != "" {
		if existing, exists := q.jobs[id]; exists {
			snapshot := cloneJob(existing)
			q.mu.Unlock()
			return snapshot, false
		}
		delete(q.dedupe, key)
	}

	job := &ConversionJob{
		ID:        uuid.NewString(),
		Source:    req.Source,
		DedupeKey: key,
		Payload:   req.Payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[job.ID] = job
	if key != "" {
		q.dedupe[key] = job.ID
	}
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	if started {
		q.schedule(job.ID)
	}
	return snapshot, true
}

func (q *Queue) Get(id string) (*ConversionJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns all known jobs, newest first.
func (q *Queue) List() []*ConversionJob {
	q.mu.RLock()
	ret := make([]*ConversionJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	slices.SortFunc(ret, func(a, b *ConversionJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return ret
}

// Start launches the workers. Jobs recovered from the store are scheduled first.
func (q *Queue) Start(ctx context.Context, exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)

	recovered := make([]*ConversionJob, 0)
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			recovered = append(recovered, job)
		}
	}
	slices.SortFunc(recovered, func(a, b *ConversionJob) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	q.mu.Unlock()

	for _, job := range recovered {
		q.schedule(job.ID)
	}
	for range q.workerCount {
		q.wg.Add(1)
		go q.work(ctx, exec)
	}
}

// Stop cancels running executors and waits for the workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		q.wg.Wait()
	}
}

func (q *Queue) work(ctx context.Context, exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.pending:
			job, ok := q.transition(id, func(job *ConversionJob) bool {
				if job.Status != StatusPending {
					return false
				}
				job.Status = StatusRunning
				return true
			})
			if !ok {
				continue
			}

			res, err := exec(ctx, job)
			if ctx.Err() != nil {
				// left as running in the store so the next start requeues it
				return
			}
			q.finish(id, res, err)
		}
	}
}

func (q *Queue) finish(id string, res Result, err error) {
	q.transition(id, func(job *ConversionJob) bool {
		job.Result = &res
		job.Error = ""
		switch {
		case err != nil:
			job.Status = StatusFailed
			job.Error = err.Error()
		case res.Failed > 0:
			job.Status = StatusFailed
			job.Error = fmt.Sprintf("%d file(s) could not be converted", res.Failed)
		case res.Converted == 0:
			job.Status = StatusSkipped
		default:
			job.Status = StatusSuccess
		}
		return true
	})
}

// transition applies mutate under the lock and persists the new state.
func (q *Queue) transition(id string, mutate func(job *ConversionJob) bool) (*ConversionJob, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || !mutate(job) {
		q.mu.Unlock()
		return nil, false
	}
	job.UpdatedAt = time.Now()

	var pruned []string
	if job.Status.Terminal() {
		q.releaseDedupeLocked(job)
		pruned = q.pruneLocked()
	}
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persist(snapshot)
	q.deleteFromStore(pruned)
	return snapshot, true
}

func (q *Queue) schedule(id string) {
	select {
	case q.pending <- id:
	default:
		go func() { q.pending <- id }()
	}
}

func (q *Queue) releaseDedupeLocked(job *ConversionJob) {
	if job.DedupeKey == "" {
		return
	}
	if id, ok := q.dedupe[job.DedupeKey]; ok && id == job.ID {
		delete(q.dedupe, job.DedupeKey)
	}
}

// pruneLocked drops the oldest finished jobs beyond maxJobs.
func (q *Queue) pruneLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	finished := make([]*ConversionJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if job.Status.Terminal() {
			finished = append(finished, job)
		}
	}
	slices.SortFunc(finished, func(a, b *ConversionJob) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})

	excess := min(len(q.jobs)-q.maxJobs, len(finished))
	pruned := make([]string, 0, excess)
	for _, job := range finished[:excess] {
		delete(q.jobs, job.ID)
		pruned = append(pruned, job.ID)
	}
	return pruned
}

func (q *Queue) hydrate(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	requeued := make([]*ConversionJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		// a job that was running when the process died starts over
		if job.Status == StatusRunning {
			job.Status = StatusPending
			job.UpdatedAt = time.Now()
			requeued = append(requeued, cloneJob(job))
		}
		q.jobs[job.ID] = job
		if job.Status == StatusPending && job.DedupeKey != "" {
			q.dedupe[job.DedupeKey] = job.ID
		}
	}
	q.mu.Unlock()

	for _, job := range requeued {
		q.persist(job)
	}
	if len(loaded) > 0 {
		log.Info("Recovered %d upload job(s), %d requeued", len(loaded), len(requeued))
	}
}

func (q *Queue) persist(job *ConversionJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func (q *Queue) deleteFromStore(ids []string) {
	if q.store == nil {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s: %v", id, err)
		}
	}
}

func cloneJob(job *ConversionJob) *ConversionJob {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.Result != nil {
		res := *job.Result
		tmp.Result = &res
	}
	return &tmp
}
