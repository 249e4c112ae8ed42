// Package jobs is the in-process job queue coordinating audit, research and
// write-batch work. One worker processes jobs serially in priority order;
// write-batch enqueues are staged and flushed into the queue in bursts.
package jobs

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// Type identifies a job kind; handlers are registered per type.
type Type string

const (
	TypeAudit      Type = "audit"
	TypeResearch   Type = "research"
	TypeWriteBatch Type = "write-batch"
)

// Priority returns the scheduling priority for the type. Higher runs first.
func (t Type) Priority() int {
	switch t {
	case TypeAudit:
		return 10
	case TypeResearch:
		return 5
	default:
		return 0
	}
}

const (
	// BatchWindow is how long write-batch jobs sit in the staging buffer.
	BatchWindow = 300 * time.Millisecond

	// MaxRetries bounds re-enqueues of a failing job.
	MaxRetries = 3

	backoffUnit = time.Second
	statsWindow = 1000
)

// Job is one unit of queued work.
type Job struct {
	ID        string
	Type      Type
	Priority  int
	Payload   any
	CreatedAt time.Time
	Attempts  int

	seq uint64
}

// Handler processes one job. A returned error re-enqueues the job with
// backoff until MaxRetries is spent.
type Handler func(ctx context.Context, job *Job) error

// Stats is the queue's health snapshot. Latency figures cover the most
// recent completions (up to 1000).
type Stats struct {
	Enqueued     uint64  `json:"enqueued"`
	Processed    uint64  `json:"processed"`
	Failed       uint64  `json:"failed"`
	QueueDepth   int     `json:"queueDepth"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
}

// Queue is the priority job queue. Safe for concurrent enqueuers; exactly
// one worker drains it.
type Queue struct {
	mu       sync.Mutex
	jobs     jobHeap
	stage    []*Job
	handlers map[Type]Handler
	seq      uint64
	closed   bool
	inFlight bool

	enqueued  uint64
	processed uint64
	failed    uint64
	latencies []float64
	latIdx    int

	batchWindow time.Duration
	maxRetries  int
	backoff     time.Duration
	now         func() time.Time

	wake chan struct{}
}

// New builds an empty queue with the standard windows.
func New() *Queue {
	return &Queue{
		handlers:    map[Type]Handler{},
		latencies:   make([]float64, 0, statsWindow),
		batchWindow: BatchWindow,
		maxRetries:  MaxRetries,
		backoff:     backoffUnit,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
}

// Register installs the handler for a job type. Call before Start.
func (q *Queue) Register(t Type, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Enqueue adds a job and returns its id. Write-batch jobs land in the
// staging buffer; everything else goes straight to the queue.
func (q *Queue) Enqueue(t Type, payload any) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		log.Warn("Job dropped, queue closed", "type", t)
		return ""
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      t,
		Priority:  t.Priority(),
		Payload:   payload,
		CreatedAt: q.now(),
		seq:       q.seq,
	}
	q.seq++
	q.enqueued++

	if t == TypeWriteBatch {
		q.stage = append(q.stage, job)
	} else {
		heap.Push(&q.jobs, job)
		q.signal()
	}
	q.observeDepth()
	return job.ID
}

// Flush moves all staged write-batch jobs into the queue as one burst,
// preserving their enqueue order.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.stage) == 0 {
		return
	}
	for _, job := range q.stage {
		heap.Push(&q.jobs, job)
	}
	q.stage = q.stage[:0]
	q.signal()
}

// Start runs the worker and the stage flusher until ctx is done.
func (q *Queue) Start(ctx context.Context) {
	go q.work(ctx)
	go func() {
		ticker := time.NewTicker(q.batchWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.Flush()
			}
		}
	}()
}

// Drain flushes the stage and waits until the queue is empty and idle, or
// ctx expires. Call at shutdown.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Flush()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idle := len(q.jobs) == 0 && len(q.stage) == 0 && !q.inFlight
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Depth returns queued plus staged jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) + len(q.stage)
}

// Stats returns the queue counters and latency window.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Enqueued:   q.enqueued,
		Processed:  q.processed,
		Failed:     q.failed,
		QueueDepth: len(q.jobs) + len(q.stage),
	}
	if n := len(q.latencies); n > 0 {
		sorted := append([]float64(nil), q.latencies...)
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		s.AvgLatencyMs = sum / float64(n)
		idx := (n*95+99)/100 - 1
		if idx < 0 {
			idx = 0
		}
		s.P95LatencyMs = sorted[idx]
	}
	return s
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.jobs) == 0 {
				q.mu.Unlock()
				break
			}
			job := heap.Pop(&q.jobs).(*Job)
			q.inFlight = true
			handler := q.handlers[job.Type]
			q.mu.Unlock()

			q.execute(ctx, job, handler)

			q.mu.Lock()
			q.inFlight = false
			q.observeDepth()
			q.mu.Unlock()
		}
	}
}

func (q *Queue) execute(ctx context.Context, job *Job, handler Handler) {
	if handler == nil {
		log.Error("No handler for job type", "type", job.Type, "jobId", job.ID)
		q.recordFailure(job)
		return
	}

	start := q.now()
	err := runHandler(ctx, job, handler)
	if err == nil {
		q.recordCompletion(job, start)
		return
	}

	job.Attempts++
	if job.Attempts > q.maxRetries {
		log.Error("Job failed permanently", "type", job.Type, "jobId", job.ID, "attempts", job.Attempts, "error", err)
		q.recordFailure(job)
		return
	}

	delay := time.Duration(job.Attempts) * q.backoff
	log.Warn("Job failed, retrying", "type", job.Type, "jobId", job.ID, "attempt", job.Attempts, "delayMs", delay.Milliseconds(), "error", err)
	time.AfterFunc(delay, func() { q.requeue(job) })
}

func runHandler(ctx context.Context, job *Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) requeue(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.failed++
		return
	}
	heap.Push(&q.jobs, job)
	q.signal()
	q.observeDepth()
}

func (q *Queue) recordCompletion(job *Job, start time.Time) {
	elapsed := float64(q.now().Sub(job.CreatedAt).Microseconds()) / 1000.0

	q.mu.Lock()
	q.processed++
	if len(q.latencies) < statsWindow {
		q.latencies = append(q.latencies, elapsed)
	} else {
		q.latencies[q.latIdx] = elapsed
		q.latIdx = (q.latIdx + 1) % statsWindow
	}
	q.mu.Unlock()

	if security.JobsProcessed != nil {
		security.JobsProcessed.WithLabelValues(string(job.Type)).Inc()
	}
	if security.JobLatencySeconds != nil {
		security.JobLatencySeconds.WithLabelValues(string(job.Type)).Observe(q.now().Sub(start).Seconds())
	}
}

func (q *Queue) recordFailure(job *Job) {
	q.mu.Lock()
	q.failed++
	q.mu.Unlock()

	if security.JobsFailed != nil {
		security.JobsFailed.WithLabelValues(string(job.Type)).Inc()
	}
}

// signal wakes the worker. Callers hold q.mu.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// observeDepth publishes the queue depth gauge. Callers hold q.mu.
func (q *Queue) observeDepth() {
	if security.JobQueueDepth != nil {
		security.JobQueueDepth.Set(float64(len(q.jobs) + len(q.stage)))
	}
}

// jobHeap orders by priority desc, then enqueue sequence asc.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
